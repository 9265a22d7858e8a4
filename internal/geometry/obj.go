package geometry

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type objDecoder struct{}

func (objDecoder) Desc() string { return "Wavefront OBJ" }

func (objDecoder) Decode(path string, sink Sink) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return DecodeOBJ(f, sink)
}

// objParser tracks the line number for error messages and the number of
// vertices seen, which negative face indices are relative to.
type objParser struct {
	sink     Sink
	line     int
	vertices int
}

// DecodeOBJ reads "v" and "f" statements. Everything else (normals, texture
// coordinates, groups, materials) is ignored. OBJ carries no counts up front,
// so the header reports them as Unknown.
func DecodeOBJ(r io.Reader, sink Sink) error {
	err := sink.Header(Header{Format: "obj", Vertices: Unknown, Faces: Unknown})
	if err != nil {
		return err
	}
	p := &objParser{sink: sink}
	bufin := bufio.NewReader(r)
	for {
		line, err := bufin.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		p.line++
		if perr := p.parseLine(strings.TrimSpace(line)); perr != nil {
			return perr
		}
		if err == io.EOF {
			return nil
		}
	}
}

func (p *objParser) parseLine(line string) error {
	if line == "" || line[0] == '#' {
		return nil
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "v":
		return p.parseVertex(fields[1:])
	case "f":
		return p.parseFace(fields[1:])
	}
	return nil
}

// v <x> <y> <z> [w]
func (p *objParser) parseVertex(fields []string) error {
	if len(fields) < 3 {
		return p.formatError("vertex line with less than 3 fields")
	}
	var v Vertex
	for i, f := range fields[:3] {
		val, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return p.formatError("bad vertex coordinate " + strconv.Quote(f))
		}
		v[i] = val
	}
	p.vertices++
	return p.sink.Vertex(v)
}

// f <v>[/<vt>[/<vn>]] ...
func (p *objParser) parseFace(fields []string) error {
	if len(fields) == 0 {
		return p.formatError("face line with no vertices")
	}
	face := make(Face, 0, len(fields))
	for _, f := range fields {
		ref, _, _ := strings.Cut(f, "/")
		idx, err := strconv.Atoi(ref)
		if err != nil {
			return p.formatError("bad face index " + strconv.Quote(f))
		}
		switch {
		case idx > 0:
			idx--
		case idx < 0:
			idx += p.vertices
			if idx < 0 {
				return p.formatError("relative face index before first vertex")
			}
		default:
			return p.formatError("face index 0")
		}
		face = append(face, uint32(idx))
	}
	if err := p.sink.Face(face); err != nil {
		return errors.Wrapf(err, "line %d", p.line)
	}
	return nil
}

func (p *objParser) formatError(msg string) error {
	return errors.Errorf("%s in line:%d", msg, p.line)
}
