package geometry

import "fmt"

// Quad is a face as stored in the face layer: exactly four vertex indices.
//
// A quad whose fourth index would be 0 is rotated to start with that index.
// A triangle [a b c] is stored as [b c a 0], so the fourth slot is the
// sentinel and the third slot holds the first index. Faces with fewer than
// three indices are first padded by repeating their last index.
type Quad [4]uint32

func PackQuad(f Face) (Quad, error) {
	n := len(f)
	switch {
	case n == 0:
		return Quad{}, ErrEmptyFace
	case n > MaxFaceVertices:
		return Quad{}, fmt.Errorf("%w: %d > %d", ErrFaceArity, n, MaxFaceVertices)
	case n == 4:
		if f[3] == 0 {
			return Quad{f[3], f[0], f[1], f[2]}, nil
		}
		return Quad{f[0], f[1], f[2], f[3]}, nil
	}

	var tri [3]uint32
	copy(tri[:], f)
	for i := n; i < 3; i++ {
		tri[i] = f[n-1]
	}
	return Quad{tri[1], tri[2], tri[0], 0}, nil
}

// IsTriangle reports whether q carries the triangle sentinel.
func (q Quad) IsTriangle() bool {
	return q[3] == 0
}

// Face reverses PackQuad.
func (q Quad) Face() Face {
	if !q.IsTriangle() {
		return Face{q[0], q[1], q[2], q[3]}
	}
	f := Face{q[2], q[0], q[1]}
	for len(f) > 1 && f[len(f)-1] == f[len(f)-2] {
		f = f[:len(f)-1]
	}
	return f
}

// Uints widens q for a UINT32 layer value.
func (q Quad) Uints() []uint64 {
	return []uint64{uint64(q[0]), uint64(q[1]), uint64(q[2]), uint64(q[3])}
}
