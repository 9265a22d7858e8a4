package upload

import (
	"github.com/InsulaLabs/meshsync/internal/wire"
)

// meshLayers are created on the mesh node once it exists.
var meshLayers = []struct {
	customType uint16
	dataType   wire.ValueType
	count      uint8
}{
	{VertexLayerType, wire.TypeReal64, 3},
	{EdgeLayerType, wire.TypeUint32, 2},
	{FaceLayerType, wire.TypeUint32, 4},
}

func (m *Machine) handleConnectAccept(msg *wire.ConnectAccept) error {
	if !assign(&m.ctx.AvatarID, int64(msg.AvatarID)) {
		m.logger.Debug("Ignoring repeated connect accept", "avatar", msg.AvatarID)
		return nil
	}
	assign(&m.ctx.UserID, int64(msg.UserID))
	m.logger.Info("Connected", "user", m.ctx.UserID, "avatar", m.ctx.AvatarID)

	for _, node := range []uint32{wire.RootNodeID, wire.AvatarParentNodeID} {
		if err := m.send(&wire.NodeSubscribe{Priority: m.priority, NodeID: node}); err != nil {
			return err
		}
	}
	for _, typ := range []uint16{ObjectNodeType, MeshNodeType} {
		if err := m.send(&wire.NodeCreate{Priority: m.priority, UserID: msg.UserID, CustomType: typ}); err != nil {
			return err
		}
	}
	m.ctx.nodesRequested = true
	return nil
}

// handleNodeCreated subscribes to every node it hears about and wires up the
// object and mesh nodes this client asked for, in whichever order they come.
func (m *Machine) handleNodeCreated(msg *wire.NodeCreated) error {
	if err := m.send(&wire.NodeSubscribe{Priority: m.priority, NodeID: msg.NodeID}); err != nil {
		return err
	}
	if !m.ctx.AvatarID.Known() || ID(msg.ParentID) != m.ctx.AvatarID {
		return nil
	}

	switch msg.CustomType {
	case ObjectNodeType:
		if !assign(&m.ctx.ObjectID, int64(msg.NodeID)) {
			return nil
		}
		m.logger.Info("Object node created", "node", msg.NodeID)
		if err := m.link(wire.SceneParentNodeID, msg.NodeID); err != nil {
			return err
		}
		m.ctx.objectLinked = true
		return m.linkMesh()

	case MeshNodeType:
		if !assign(&m.ctx.MeshID, int64(msg.NodeID)) {
			return nil
		}
		m.logger.Info("Mesh node created", "node", msg.NodeID)
		if err := m.linkMesh(); err != nil {
			return err
		}
		return m.requestLayers()
	}
	return nil
}

func (m *Machine) link(parent, child uint32) error {
	return m.send(&wire.NodeLink{Priority: m.priority, ParentID: parent, ChildID: child})
}

// linkMesh puts the mesh under the object once both ids are known.
func (m *Machine) linkMesh() error {
	if m.ctx.meshLinked || !m.ctx.ObjectID.Known() || !m.ctx.MeshID.Known() {
		return nil
	}
	if err := m.link(uint32(m.ctx.ObjectID), uint32(m.ctx.MeshID)); err != nil {
		return err
	}
	m.ctx.meshLinked = true
	return nil
}

func (m *Machine) requestLayers() error {
	if m.ctx.layersRequested {
		return nil
	}
	for _, l := range meshLayers {
		err := m.send(&wire.LayerCreate{
			Priority:      m.priority,
			NodeID:        uint32(m.ctx.MeshID),
			ParentLayerID: wire.NoParentLayer,
			DataType:      l.dataType,
			Count:         l.count,
			CustomType:    l.customType,
		})
		if err != nil {
			return err
		}
	}
	m.ctx.layersRequested = true
	return nil
}
