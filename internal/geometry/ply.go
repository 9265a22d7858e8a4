package geometry

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type plyDecoder struct{}

func (plyDecoder) Desc() string { return "Stanford PLY" }

func (plyDecoder) Decode(path string, sink Sink) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return DecodePLY(f, sink)
}

type plyScalar uint8

const (
	plyInt8 plyScalar = iota + 1
	plyUint8
	plyInt16
	plyUint16
	plyInt32
	plyUint32
	plyFloat32
	plyFloat64
)

func parsePlyScalar(s string) (plyScalar, error) {
	switch s {
	case "char", "int8":
		return plyInt8, nil
	case "uchar", "uint8":
		return plyUint8, nil
	case "short", "int16":
		return plyInt16, nil
	case "ushort", "uint16":
		return plyUint16, nil
	case "int", "int32":
		return plyInt32, nil
	case "uint", "uint32":
		return plyUint32, nil
	case "float", "float32":
		return plyFloat32, nil
	case "double", "float64":
		return plyFloat64, nil
	}
	return 0, errors.Errorf("unknown property type %q", s)
}

func (t plyScalar) size() int {
	switch t {
	case plyInt8, plyUint8:
		return 1
	case plyInt16, plyUint16:
		return 2
	case plyFloat64:
		return 8
	default:
		return 4
	}
}

type plyProperty struct {
	name      string
	typ       plyScalar
	list      bool
	countType plyScalar
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

type plyHeader struct {
	format   string
	order    binary.ByteOrder
	elements []plyElement
}

func (h *plyHeader) count(name string) int {
	for _, el := range h.elements {
		if el.name == name {
			return el.count
		}
	}
	return 0
}

// DecodePLY reads a PLY stream. Vertices come from the x, y and z properties
// of the "vertex" element, faces from the vertex_indices list of "face".
// Other elements and properties are read and discarded.
func DecodePLY(r io.Reader, sink Sink) error {
	br := bufio.NewReader(r)
	hdr, err := readPlyHeader(br)
	if err != nil {
		return errors.Wrap(err, "ply header")
	}
	err = sink.Header(Header{
		Format:   "ply/" + hdr.format,
		Vertices: hdr.count("vertex"),
		Faces:    hdr.count("face"),
	})
	if err != nil {
		return err
	}

	var rd plyRecordReader
	if hdr.order == nil {
		rd = &plyASCIIReader{r: br}
	} else {
		rd = &plyBinaryReader{r: br, order: hdr.order}
	}

	for _, el := range hdr.elements {
		if err := decodePlyElement(rd, el, sink); err != nil {
			return err
		}
	}
	return nil
}

func readPlyHeader(br *bufio.Reader) (*plyHeader, error) {
	hdr := &plyHeader{}
	lineNo := 0
	sawFormat := false
	for {
		line, err := br.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return nil, errors.New("missing end_header")
			}
			return nil, err
		}
		lineNo++
		fields := strings.Fields(line)
		if lineNo == 1 {
			if len(fields) != 1 || fields[0] != "ply" {
				return nil, errors.New("missing ply magic")
			}
			continue
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return nil, errors.Errorf("line %d: bad format line", lineNo)
			}
			switch fields[1] {
			case "ascii":
			case "binary_little_endian":
				hdr.order = binary.LittleEndian
			case "binary_big_endian":
				hdr.order = binary.BigEndian
			default:
				return nil, errors.Errorf("line %d: unknown format %q", lineNo, fields[1])
			}
			hdr.format = fields[1]
			sawFormat = true
		case "comment", "obj_info":
		case "element":
			if len(fields) != 3 {
				return nil, errors.Errorf("line %d: bad element line", lineNo)
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				return nil, errors.Errorf("line %d: bad element count %q", lineNo, fields[2])
			}
			hdr.elements = append(hdr.elements, plyElement{name: fields[1], count: n})
		case "property":
			if len(hdr.elements) == 0 {
				return nil, errors.Errorf("line %d: property before element", lineNo)
			}
			prop, err := parsePlyProperty(fields)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNo)
			}
			el := &hdr.elements[len(hdr.elements)-1]
			el.props = append(el.props, prop)
		case "end_header":
			if !sawFormat {
				return nil, errors.New("missing format line")
			}
			return hdr, nil
		default:
			return nil, errors.Errorf("line %d: unexpected keyword %q", lineNo, fields[0])
		}
	}
}

func parsePlyProperty(fields []string) (plyProperty, error) {
	if len(fields) == 5 && fields[1] == "list" {
		ct, err := parsePlyScalar(fields[2])
		if err != nil {
			return plyProperty{}, err
		}
		it, err := parsePlyScalar(fields[3])
		if err != nil {
			return plyProperty{}, err
		}
		return plyProperty{name: fields[4], typ: it, list: true, countType: ct}, nil
	}
	if len(fields) != 3 {
		return plyProperty{}, errors.New("bad property line")
	}
	t, err := parsePlyScalar(fields[1])
	if err != nil {
		return plyProperty{}, err
	}
	return plyProperty{name: fields[2], typ: t}, nil
}

func decodePlyElement(rd plyRecordReader, el plyElement, sink Sink) error {
	xi, yi, zi, fi := -1, -1, -1, -1
	for i, p := range el.props {
		switch {
		case p.name == "x" && !p.list:
			xi = i
		case p.name == "y" && !p.list:
			yi = i
		case p.name == "z" && !p.list:
			zi = i
		case p.list && (p.name == "vertex_indices" || p.name == "vertex_index"):
			fi = i
		}
	}
	switch el.name {
	case "vertex":
		if xi < 0 || yi < 0 || zi < 0 {
			return errors.New("ply vertex element lacks x, y or z")
		}
	case "face":
		if fi < 0 {
			return errors.New("ply face element lacks vertex_indices")
		}
	}

	scalars := make([]float64, len(el.props))
	var face Face
	for rec := 0; rec < el.count; rec++ {
		if err := rd.begin(); err != nil {
			return errors.Wrapf(err, "ply %s %d", el.name, rec)
		}
		for i, p := range el.props {
			if !p.list {
				v, err := rd.scalar(p.typ)
				if err != nil {
					return errors.Wrapf(err, "ply %s %d: property %s", el.name, rec, p.name)
				}
				scalars[i] = v
				continue
			}
			n, err := rd.scalar(p.countType)
			if err != nil {
				return errors.Wrapf(err, "ply %s %d: property %s", el.name, rec, p.name)
			}
			if n < 0 {
				return errors.Errorf("ply %s %d: negative list length", el.name, rec)
			}
			keep := i == fi && el.name == "face"
			if keep {
				face = make(Face, 0, int(n))
			}
			for j := 0; j < int(n); j++ {
				v, err := rd.scalar(p.typ)
				if err != nil {
					return errors.Wrapf(err, "ply %s %d: property %s", el.name, rec, p.name)
				}
				if !keep {
					continue
				}
				if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
					return errors.Errorf("ply face %d: bad vertex index %v", rec, v)
				}
				face = append(face, uint32(v))
			}
		}

		var err error
		switch el.name {
		case "vertex":
			err = sink.Vertex(Vertex{scalars[xi], scalars[yi], scalars[zi]})
		case "face":
			err = sink.Face(face)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// plyRecordReader yields property values of one element instance at a time.
type plyRecordReader interface {
	begin() error
	scalar(t plyScalar) (float64, error)
}

type plyASCIIReader struct {
	r      *bufio.Reader
	fields []string
}

func (a *plyASCIIReader) begin() error {
	for {
		line, err := a.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		a.fields = strings.Fields(line)
		if len(a.fields) > 0 {
			return nil
		}
	}
}

func (a *plyASCIIReader) scalar(t plyScalar) (float64, error) {
	if len(a.fields) == 0 {
		return 0, errors.New("not enough values on line")
	}
	tok := a.fields[0]
	a.fields = a.fields[1:]
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, errors.Errorf("bad number %q", tok)
	}
	return v, nil
}

type plyBinaryReader struct {
	r     *bufio.Reader
	order binary.ByteOrder
	buf   [8]byte
}

func (b *plyBinaryReader) begin() error { return nil }

func (b *plyBinaryReader) scalar(t plyScalar) (float64, error) {
	p := b.buf[:t.size()]
	if _, err := io.ReadFull(b.r, p); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	switch t {
	case plyInt8:
		return float64(int8(p[0])), nil
	case plyUint8:
		return float64(p[0]), nil
	case plyInt16:
		return float64(int16(b.order.Uint16(p))), nil
	case plyUint16:
		return float64(b.order.Uint16(p)), nil
	case plyInt32:
		return float64(int32(b.order.Uint32(p))), nil
	case plyUint32:
		return float64(b.order.Uint32(p)), nil
	case plyFloat32:
		return float64(math.Float32frombits(b.order.Uint32(p))), nil
	default:
		return math.Float64frombits(b.order.Uint64(p)), nil
	}
}
