package geometry

import (
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

type gltfDecoder struct{}

func (gltfDecoder) Desc() string { return "glTF 2.0" }

// Decode flattens every triangle primitive of every mesh into one vertex and
// face list. Node transforms are not applied.
func (gltfDecoder) Decode(path string, sink Sink) error {
	doc, err := gltf.Open(path)
	if err != nil {
		return err
	}

	hdr := Header{Format: "gltf"}
	for mi, mesh := range doc.Meshes {
		for pi, prim := range mesh.Primitives {
			if prim.Mode != gltf.PrimitiveTriangles {
				return errors.Errorf("mesh %d primitive %d: unsupported mode %v", mi, pi, prim.Mode)
			}
			pos, ok := prim.Attributes["POSITION"]
			if !ok {
				return errors.Errorf("mesh %d primitive %d: no POSITION attribute", mi, pi)
			}
			n := int(doc.Accessors[pos].Count)
			hdr.Vertices += n
			if prim.Indices != nil {
				n = int(doc.Accessors[*prim.Indices].Count)
			}
			hdr.Faces += n / 3
		}
	}
	if err := sink.Header(hdr); err != nil {
		return err
	}

	base := uint32(0)
	for mi, mesh := range doc.Meshes {
		for pi, prim := range mesh.Primitives {
			positions, err := modeler.ReadPosition(doc, doc.Accessors[prim.Attributes["POSITION"]], nil)
			if err != nil {
				return errors.Wrapf(err, "mesh %d primitive %d: positions", mi, pi)
			}
			for _, p := range positions {
				if err := sink.Vertex(Vertex{float64(p[0]), float64(p[1]), float64(p[2])}); err != nil {
					return err
				}
			}

			var indices []uint32
			if prim.Indices != nil {
				indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
				if err != nil {
					return errors.Wrapf(err, "mesh %d primitive %d: indices", mi, pi)
				}
			} else {
				indices = make([]uint32, len(positions))
				for i := range indices {
					indices[i] = uint32(i)
				}
			}
			for i := 0; i+2 < len(indices); i += 3 {
				face := Face{base + indices[i], base + indices[i+1], base + indices[i+2]}
				if err := sink.Face(face); err != nil {
					return err
				}
			}
			base += uint32(len(positions))
		}
	}
	return nil
}
