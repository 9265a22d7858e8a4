package upload

import "strconv"

// Node custom types requested under the avatar.
const (
	ObjectNodeType uint16 = 125
	MeshNodeType   uint16 = 126
)

// Layer custom types created on the mesh node.
const (
	VertexLayerType uint16 = 0
	EdgeLayerType   uint16 = 1
	FaceLayerType   uint16 = 2
)

// ID is a server-assigned identifier that may not have arrived yet.
type ID int64

const Unset ID = -1

func (id ID) Known() bool {
	return id != Unset
}

func (id ID) String() string {
	if !id.Known() {
		return "unset"
	}
	return strconv.FormatInt(int64(id), 10)
}

// Phase is how far the scene has been linked, derived from what has been
// recorded. Layers are requested as soon as the mesh id is known, but the
// phase only reaches LayersRequested once the mesh is linked under the object;
// use Context.LayersRequested for the request itself.
type Phase int

const (
	Disconnected Phase = iota
	Connected
	ObjectRequested
	ObjectLinked
	MeshRequested
	MeshLinked
	LayersRequested
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case ObjectRequested:
		return "object-requested"
	case ObjectLinked:
		return "object-linked"
	case MeshRequested:
		return "mesh-requested"
	case MeshLinked:
		return "mesh-linked"
	case LayersRequested:
		return "layers-requested"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

// Context is everything the client knows about its session. Each id moves
// from Unset to a value once and is never reassigned.
type Context struct {
	UserID        ID
	AvatarID      ID
	ObjectID      ID
	MeshID        ID
	VertexLayerID ID
	FaceLayerID   ID

	// AuthAttempts counts password challenges since the last username request.
	AuthAttempts int

	VerticesWritten int
	FacesWritten    int

	nodesRequested  bool
	objectLinked    bool
	meshLinked      bool
	layersRequested bool
	uploadStarted   bool
	uploadDone      bool
}

func NewContext() *Context {
	return &Context{
		UserID:        Unset,
		AvatarID:      Unset,
		ObjectID:      Unset,
		MeshID:        Unset,
		VertexLayerID: Unset,
		FaceLayerID:   Unset,
	}
}

// assign records v in *id unless it is already set. It reports whether the
// value was taken.
func assign(id *ID, v int64) bool {
	if id.Known() {
		return false
	}
	*id = ID(v)
	return true
}

func (c *Context) Phase() Phase {
	switch {
	case !c.AvatarID.Known():
		return Disconnected
	case c.meshLinked && c.layersRequested:
		return LayersRequested
	case c.meshLinked:
		return MeshLinked
	case c.MeshID.Known() && !c.ObjectID.Known():
		return MeshRequested
	case c.objectLinked:
		return ObjectLinked
	case c.nodesRequested:
		return ObjectRequested
	default:
		return Connected
	}
}

// LayersReady reports whether both layers an upload writes to are known.
func (c *Context) LayersReady() bool {
	return c.MeshID.Known() && c.VertexLayerID.Known() && c.FaceLayerID.Known()
}

// LayersRequested reports whether the mesh layers have been asked for,
// whatever the link phase.
func (c *Context) LayersRequested() bool {
	return c.layersRequested
}

func (c *Context) UploadStarted() bool {
	return c.uploadStarted
}

func (c *Context) UploadDone() bool {
	return c.uploadDone
}
