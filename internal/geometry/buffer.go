package geometry

import (
	"github.com/flywave/go3d/float64/vec3"
)

// Buffer is a whole mesh held in memory, faces already packed as quads.
type Buffer struct {
	Format   string
	Vertices []Vertex
	Quads    []Quad
}

// Load reads the entire file at path.
func Load(path string) (*Buffer, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return f.Load()
}

func (f *File) Load() (*Buffer, error) {
	b := &Buffer{Format: f.Header.Format}
	if f.Header.Vertices > 0 {
		b.Vertices = make([]Vertex, 0, f.Header.Vertices)
	}
	if f.Header.Faces > 0 {
		b.Quads = make([]Quad, 0, f.Header.Faces)
	}
	err := f.Walk(VisitorFuncs{
		OnVertex: func(_ int, v Vertex) error {
			b.Vertices = append(b.Vertices, v)
			return nil
		},
		OnFace: func(_ int, face Face) error {
			q, err := PackQuad(face)
			if err != nil {
				return err
			}
			b.Quads = append(b.Quads, q)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) ForEachVertex(fn func(index int, v Vertex) error) error {
	for i, v := range b.Vertices {
		if err := fn(i, v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) ForEachFace(fn func(index int, q Quad) error) error {
	for i, q := range b.Quads {
		if err := fn(i, q); err != nil {
			return err
		}
	}
	return nil
}

// Bounds returns the axis aligned box around all vertices, or the zero box
// for an empty buffer.
func (b *Buffer) Bounds() vec3.Box {
	if len(b.Vertices) == 0 {
		return vec3.Box{}
	}
	box := vec3.MinBox
	for i := range b.Vertices {
		p := vec3.Box{Min: b.Vertices[i], Max: b.Vertices[i]}
		box.Join(&p)
	}
	return box
}
