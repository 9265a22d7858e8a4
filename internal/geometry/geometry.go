// Package geometry reads polygonal meshes from files and hands their vertices
// and faces to a visitor in file order.
//
// Supported formats, selected by file extension:
//
//	.ply        Stanford PLY, ascii and binary (both byte orders)
//	.obj        Wavefront OBJ (positions and faces only)
//	.gltf .glb  glTF 2.0 triangle primitives
package geometry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flywave/go3d/float64/vec3"
)

// MaxFaceVertices is the largest polygon a face record can carry.
const MaxFaceVertices = 4

// Unknown is used in a Header for counts a format only learns at the end.
const Unknown = -1

var (
	ErrUnsupportedFormat = errors.New("unsupported geometry format")
	ErrEmptyFace         = errors.New("face has no vertices")
	ErrFaceArity         = errors.New("face has too many vertices")
	ErrIndexRange        = errors.New("face references a vertex that does not exist")

	errHeaderDone = errors.New("header scanned")
)

type Vertex = vec3.T

// Face lists vertex indices in winding order.
type Face []uint32

type Header struct {
	Format   string
	Vertices int
	Faces    int
}

// Sink receives records from a Decoder in file order. Header is always called
// first, exactly once.
type Sink interface {
	Header(h Header) error
	Vertex(v Vertex) error
	Face(f Face) error
}

// Decoder parses one file format.
type Decoder interface {
	Desc() string
	Decode(path string, sink Sink) error
}

// Decoders is the list of decoders, indexed by lower-case extension.
var Decoders = map[string]Decoder{
	".ply":  plyDecoder{},
	".obj":  objDecoder{},
	".gltf": gltfDecoder{},
	".glb":  gltfDecoder{},
}

// Visitor receives records with their zero-based, dense item index.
type Visitor interface {
	Header(h Header) error
	Vertex(index int, v Vertex) error
	Face(index int, f Face) error
}

// VisitorFuncs adapts plain functions to a Visitor. Nil fields are skipped.
type VisitorFuncs struct {
	OnHeader func(h Header) error
	OnVertex func(index int, v Vertex) error
	OnFace   func(index int, f Face) error
}

func (fns VisitorFuncs) Header(h Header) error {
	if fns.OnHeader == nil {
		return nil
	}
	return fns.OnHeader(h)
}

func (fns VisitorFuncs) Vertex(index int, v Vertex) error {
	if fns.OnVertex == nil {
		return nil
	}
	return fns.OnVertex(index, v)
}

func (fns VisitorFuncs) Face(index int, f Face) error {
	if fns.OnFace == nil {
		return nil
	}
	return fns.OnFace(index, f)
}

// FileError reports a geometry file that could not be opened or parsed.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("geometry %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// File is an opened geometry file whose header has been scanned.
type File struct {
	Path   string
	Header Header

	decoder Decoder
}

// Open selects a decoder for path and scans the header, so unreadable files
// and malformed headers are reported before any record is consumed.
func Open(path string) (*File, error) {
	dec, ok := Decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, &FileError{Path: path, Err: fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))}
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	fh.Close()

	f := &File{Path: path, decoder: dec}
	err = dec.Decode(path, &headerScan{header: &f.Header})
	if err != nil && !errors.Is(err, errHeaderDone) {
		return nil, &FileError{Path: path, Err: err}
	}
	return f, nil
}

// Walk re-reads the file and pushes every record to v.
func (f *File) Walk(v Visitor) error {
	w := &walker{visitor: v, header: Header{Vertices: Unknown, Faces: Unknown}}
	if err := f.decoder.Decode(f.Path, w); err != nil {
		return &FileError{Path: f.Path, Err: err}
	}
	return nil
}

type headerScan struct {
	header *Header
}

func (s *headerScan) Header(h Header) error {
	*s.header = h
	return errHeaderDone
}

func (s *headerScan) Vertex(Vertex) error { return errHeaderDone }
func (s *headerScan) Face(Face) error     { return errHeaderDone }

// walker numbers records and checks faces before they reach the visitor.
type walker struct {
	visitor  Visitor
	header   Header
	vertices int
	faces    int
}

func (w *walker) Header(h Header) error {
	w.header = h
	return w.visitor.Header(h)
}

func (w *walker) Vertex(v Vertex) error {
	i := w.vertices
	w.vertices++
	return w.visitor.Vertex(i, v)
}

func (w *walker) Face(f Face) error {
	switch {
	case len(f) == 0:
		return fmt.Errorf("face %d: %w", w.faces, ErrEmptyFace)
	case len(f) > MaxFaceVertices:
		return fmt.Errorf("face %d: %w: %d > %d", w.faces, ErrFaceArity, len(f), MaxFaceVertices)
	}
	limit := w.vertices
	if w.header.Vertices != Unknown {
		limit = w.header.Vertices
	}
	for _, idx := range f {
		if int64(idx) >= int64(limit) {
			return fmt.Errorf("face %d: %w: index %d, %d vertices", w.faces, ErrIndexRange, idx, limit)
		}
	}
	i := w.faces
	w.faces++
	return w.visitor.Face(i, f)
}
