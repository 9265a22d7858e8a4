package upload

import (
	"fmt"
	"strings"
	"time"

	"github.com/InsulaLabs/meshsync/internal/geometry"
	"github.com/InsulaLabs/meshsync/internal/wire"
)

type Strategy string

const (
	// Buffered parses the whole file before connecting and sends from memory.
	Buffered Strategy = "buffered"
	// Streaming parses the file when the layers are ready and sends each
	// record as it is decoded.
	Streaming Strategy = "streaming"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Buffered:
		return Buffered, nil
	case Streaming:
		return Streaming, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// ItemWriter writes one item to the vertex or face layer.
type ItemWriter interface {
	Vertex(index int, v geometry.Vertex) error
	Face(index int, q geometry.Quad) error
}

// Uploader pushes a whole mesh through an ItemWriter, vertices first.
type Uploader interface {
	Upload(w ItemWriter) error
}

type BufferedUploader struct {
	Buffer *geometry.Buffer
}

func (u *BufferedUploader) Upload(w ItemWriter) error {
	if err := u.Buffer.ForEachVertex(w.Vertex); err != nil {
		return err
	}
	return u.Buffer.ForEachFace(w.Face)
}

type StreamingUploader struct {
	File *geometry.File
}

func (u *StreamingUploader) Upload(w ItemWriter) error {
	return u.File.Walk(geometry.VisitorFuncs{
		OnVertex: w.Vertex,
		OnFace: func(index int, f geometry.Face) error {
			q, err := geometry.PackQuad(f)
			if err != nil {
				return err
			}
			return w.Face(index, q)
		},
	})
}

// NewUploader prepares path for strategy. Errors in the file surface here,
// before any connection is made: a buffered upload parses everything, a
// streaming upload scans the header.
func NewUploader(strategy Strategy, path string) (Uploader, geometry.Header, error) {
	switch strategy {
	case Streaming:
		f, err := geometry.Open(path)
		if err != nil {
			return nil, geometry.Header{}, err
		}
		return &StreamingUploader{File: f}, f.Header, nil
	case Buffered, "":
		f, err := geometry.Open(path)
		if err != nil {
			return nil, geometry.Header{}, err
		}
		b, err := f.Load()
		if err != nil {
			return nil, geometry.Header{}, err
		}
		return &BufferedUploader{Buffer: b}, geometry.Header{
			Format:   b.Format,
			Vertices: len(b.Vertices),
			Faces:    len(b.Quads),
		}, nil
	}
	return nil, geometry.Header{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

// layerWriter sends items to the layers recorded in the machine's context.
type layerWriter struct {
	m *Machine
}

func (w layerWriter) Vertex(index int, v geometry.Vertex) error {
	ctx := w.m.ctx
	if !ctx.MeshID.Known() || !ctx.VertexLayerID.Known() {
		return fmt.Errorf("%w: vertex layer", ErrLayerNotReady)
	}
	err := w.m.send(&wire.LayerSetValue{
		Priority: w.m.priority,
		NodeID:   uint32(ctx.MeshID),
		LayerID:  uint16(ctx.VertexLayerID),
		ItemID:   uint32(index),
		Value:    wire.RealValue(wire.TypeReal64, v[0], v[1], v[2]),
	})
	if err != nil {
		return err
	}
	ctx.VerticesWritten++
	w.m.progress()
	return nil
}

func (w layerWriter) Face(index int, q geometry.Quad) error {
	ctx := w.m.ctx
	if !ctx.MeshID.Known() || !ctx.FaceLayerID.Known() {
		return fmt.Errorf("%w: face layer", ErrLayerNotReady)
	}
	err := w.m.send(&wire.LayerSetValue{
		Priority: w.m.priority,
		NodeID:   uint32(ctx.MeshID),
		LayerID:  uint16(ctx.FaceLayerID),
		ItemID:   uint32(index),
		Value:    wire.UintValue(wire.TypeUint32, q.Uints()...),
	})
	if err != nil {
		return err
	}
	ctx.FacesWritten++
	w.m.progress()
	return nil
}

// Summary describes a finished upload.
type Summary struct {
	Vertices int
	Faces    int
	Elapsed  time.Duration
}
