package upload

import (
	"github.com/InsulaLabs/meshsync/internal/wire"
)

// handleLayerCreated records the vertex and face layers of the mesh node and
// starts the upload the moment both are known.
func (m *Machine) handleLayerCreated(msg *wire.LayerCreated) error {
	m.logger.Debug("Layer created",
		"node", msg.NodeID, "layer", msg.LayerID,
		"type", msg.DataType, "count", msg.Count, "custom", msg.CustomType)

	if !m.ctx.MeshID.Known() || ID(msg.NodeID) != m.ctx.MeshID {
		return nil
	}

	var slot *ID
	switch msg.CustomType {
	case VertexLayerType:
		slot = &m.ctx.VertexLayerID
	case FaceLayerType:
		slot = &m.ctx.FaceLayerID
	default:
		return nil
	}
	if assign(slot, int64(msg.LayerID)) {
		err := m.send(&wire.LayerSubscribe{Priority: m.priority, NodeID: msg.NodeID, LayerID: msg.LayerID})
		if err != nil {
			return err
		}
	}
	return m.startUpload()
}

func (m *Machine) startUpload() error {
	if m.ctx.uploadStarted || !m.ctx.LayersReady() {
		return nil
	}
	m.ctx.uploadStarted = true
	return m.runUpload()
}
