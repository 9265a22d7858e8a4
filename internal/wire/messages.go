package wire

import "fmt"

type Opcode uint8

// Client to server.
const (
	OpUserAuthenticate Opcode = iota + 1
	OpConnectTerminate
	OpNodeCreate
	OpNodeSubscribe
	OpNodeLink
	OpLayerCreate
	OpLayerSubscribe
	OpLayerSetValue
)

// Server to client. ConnectTerminate and LayerSetValue travel both ways.
const (
	OpAuthenticateRequest Opcode = iota + 16
	OpConnectAccept
	OpNodeCreated
	OpLayerCreated
)

func (op Opcode) String() string {
	switch op {
	case OpUserAuthenticate:
		return "UserAuthenticate"
	case OpConnectTerminate:
		return "ConnectTerminate"
	case OpNodeCreate:
		return "NodeCreate"
	case OpNodeSubscribe:
		return "NodeSubscribe"
	case OpNodeLink:
		return "NodeLink"
	case OpLayerCreate:
		return "LayerCreate"
	case OpLayerSubscribe:
		return "LayerSubscribe"
	case OpLayerSetValue:
		return "LayerSetValue"
	case OpAuthenticateRequest:
		return "AuthenticateRequest"
	case OpConnectAccept:
		return "ConnectAccept"
	case OpNodeCreated:
		return "NodeCreated"
	case OpLayerCreated:
		return "LayerCreated"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

// Message is the closed set of commands understood by the codec.
type Message interface {
	Opcode() Opcode
	encode(e *encoder) error
	decode(d *decoder)
}

func newMessage(op Opcode) (Message, error) {
	switch op {
	case OpUserAuthenticate:
		return &UserAuthenticate{}, nil
	case OpConnectTerminate:
		return &ConnectTerminate{}, nil
	case OpNodeCreate:
		return &NodeCreate{}, nil
	case OpNodeSubscribe:
		return &NodeSubscribe{}, nil
	case OpNodeLink:
		return &NodeLink{}, nil
	case OpLayerCreate:
		return &LayerCreate{}, nil
	case OpLayerSubscribe:
		return &LayerSubscribe{}, nil
	case OpLayerSetValue:
		return &LayerSetValue{}, nil
	case OpAuthenticateRequest:
		return &AuthenticateRequest{}, nil
	case OpConnectAccept:
		return &ConnectAccept{}, nil
	case OpNodeCreated:
		return &NodeCreated{}, nil
	case OpLayerCreated:
		return &LayerCreated{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, uint8(op))
	}
}

// UserAuthenticate answers an AuthenticateRequest. Method is AuthNone when
// only the username is offered.
type UserAuthenticate struct {
	Username string
	Method   AuthMethod
	Secret   string
}

func (m *UserAuthenticate) Opcode() Opcode { return OpUserAuthenticate }

func (m *UserAuthenticate) encode(e *encoder) error {
	if err := e.str(m.Username, MaxUsernameLength); err != nil {
		return err
	}
	e.u8(uint8(m.Method))
	return e.str(m.Secret, MaxSecretLength)
}

func (m *UserAuthenticate) decode(d *decoder) {
	m.Username = d.str()
	m.Method = AuthMethod(d.u8())
	m.Secret = d.str()
}

// AuthenticateRequest is the server's challenge. An empty Username means the
// server wants a username; otherwise it wants a secret for that user.
type AuthenticateRequest struct {
	Username string
	Methods  []AuthMethod
}

func (m *AuthenticateRequest) Opcode() Opcode { return OpAuthenticateRequest }

func (m *AuthenticateRequest) Offers(method AuthMethod) bool {
	for _, have := range m.Methods {
		if have == method {
			return true
		}
	}
	return false
}

func (m *AuthenticateRequest) encode(e *encoder) error {
	if err := e.str(m.Username, MaxUsernameLength); err != nil {
		return err
	}
	if len(m.Methods) > MaxAuthMethods {
		return fmt.Errorf("%w: %d", ErrTooManyMethods, len(m.Methods))
	}
	e.u8(uint8(len(m.Methods)))
	for _, method := range m.Methods {
		e.u8(uint8(method))
	}
	return nil
}

func (m *AuthenticateRequest) decode(d *decoder) {
	m.Username = d.str()
	n := int(d.u8())
	if n > MaxAuthMethods {
		d.fail(fmt.Errorf("%w: %d", ErrTooManyMethods, n))
		return
	}
	m.Methods = nil
	for i := 0; i < n; i++ {
		m.Methods = append(m.Methods, AuthMethod(d.u8()))
	}
}

type ConnectAccept struct {
	UserID   uint16
	AvatarID uint32
}

func (m *ConnectAccept) Opcode() Opcode { return OpConnectAccept }

func (m *ConnectAccept) encode(e *encoder) error {
	e.u16(m.UserID)
	e.u32(m.AvatarID)
	return nil
}

func (m *ConnectAccept) decode(d *decoder) {
	m.UserID = d.u16()
	m.AvatarID = d.u32()
}

type ConnectTerminate struct {
	Reason TermReason
}

func (m *ConnectTerminate) Opcode() Opcode { return OpConnectTerminate }

func (m *ConnectTerminate) encode(e *encoder) error {
	e.u8(uint8(m.Reason))
	return nil
}

func (m *ConnectTerminate) decode(d *decoder) {
	m.Reason = TermReason(d.u8())
}

// NodeCreate asks for a new node parented to the sender's avatar.
type NodeCreate struct {
	Priority   uint8
	UserID     uint16
	CustomType uint16
}

func (m *NodeCreate) Opcode() Opcode { return OpNodeCreate }

func (m *NodeCreate) encode(e *encoder) error {
	e.u8(m.Priority)
	e.u16(m.UserID)
	e.u16(m.CustomType)
	return nil
}

func (m *NodeCreate) decode(d *decoder) {
	m.Priority = d.u8()
	m.UserID = d.u16()
	m.CustomType = d.u16()
}

type NodeCreated struct {
	NodeID     uint32
	ParentID   uint32
	UserID     uint16
	CustomType uint16
}

func (m *NodeCreated) Opcode() Opcode { return OpNodeCreated }

func (m *NodeCreated) encode(e *encoder) error {
	e.u32(m.NodeID)
	e.u32(m.ParentID)
	e.u16(m.UserID)
	e.u16(m.CustomType)
	return nil
}

func (m *NodeCreated) decode(d *decoder) {
	m.NodeID = d.u32()
	m.ParentID = d.u32()
	m.UserID = d.u16()
	m.CustomType = d.u16()
}

type NodeSubscribe struct {
	Priority uint8
	NodeID   uint32
	Version  uint32
	CRC32    uint32
}

func (m *NodeSubscribe) Opcode() Opcode { return OpNodeSubscribe }

func (m *NodeSubscribe) encode(e *encoder) error {
	e.u8(m.Priority)
	e.u32(m.NodeID)
	e.u32(m.Version)
	e.u32(m.CRC32)
	return nil
}

func (m *NodeSubscribe) decode(d *decoder) {
	m.Priority = d.u8()
	m.NodeID = d.u32()
	m.Version = d.u32()
	m.CRC32 = d.u32()
}

// NodeLink moves ChildID under ParentID.
type NodeLink struct {
	Priority uint8
	ParentID uint32
	ChildID  uint32
}

func (m *NodeLink) Opcode() Opcode { return OpNodeLink }

func (m *NodeLink) encode(e *encoder) error {
	e.u8(m.Priority)
	e.u32(m.ParentID)
	e.u32(m.ChildID)
	return nil
}

func (m *NodeLink) decode(d *decoder) {
	m.Priority = d.u8()
	m.ParentID = d.u32()
	m.ChildID = d.u32()
}

type LayerCreate struct {
	Priority      uint8
	NodeID        uint32
	ParentLayerID uint16
	DataType      ValueType
	Count         uint8
	CustomType    uint16
}

func (m *LayerCreate) Opcode() Opcode { return OpLayerCreate }

func (m *LayerCreate) encode(e *encoder) error {
	if !m.DataType.Valid() {
		return fmt.Errorf("%w: %d", ErrValueType, uint8(m.DataType))
	}
	if m.Count < 1 || m.Count > MaxValueCount {
		return fmt.Errorf("%w: %d", ErrValueCount, m.Count)
	}
	e.u8(m.Priority)
	e.u32(m.NodeID)
	e.u16(m.ParentLayerID)
	e.u8(uint8(m.DataType))
	e.u8(m.Count)
	e.u16(m.CustomType)
	return nil
}

func (m *LayerCreate) decode(d *decoder) {
	m.Priority = d.u8()
	m.NodeID = d.u32()
	m.ParentLayerID = d.u16()
	m.DataType = ValueType(d.u8())
	m.Count = d.u8()
	m.CustomType = d.u16()
}

type LayerCreated struct {
	NodeID        uint32
	ParentLayerID uint16
	LayerID       uint16
	DataType      ValueType
	Count         uint8
	CustomType    uint16
}

func (m *LayerCreated) Opcode() Opcode { return OpLayerCreated }

func (m *LayerCreated) encode(e *encoder) error {
	e.u32(m.NodeID)
	e.u16(m.ParentLayerID)
	e.u16(m.LayerID)
	e.u8(uint8(m.DataType))
	e.u8(m.Count)
	e.u16(m.CustomType)
	return nil
}

func (m *LayerCreated) decode(d *decoder) {
	m.NodeID = d.u32()
	m.ParentLayerID = d.u16()
	m.LayerID = d.u16()
	m.DataType = ValueType(d.u8())
	m.Count = d.u8()
	m.CustomType = d.u16()
}

type LayerSubscribe struct {
	Priority uint8
	NodeID   uint32
	LayerID  uint16
	Version  uint32
	CRC32    uint32
}

func (m *LayerSubscribe) Opcode() Opcode { return OpLayerSubscribe }

func (m *LayerSubscribe) encode(e *encoder) error {
	e.u8(m.Priority)
	e.u32(m.NodeID)
	e.u16(m.LayerID)
	e.u32(m.Version)
	e.u32(m.CRC32)
	return nil
}

func (m *LayerSubscribe) decode(d *decoder) {
	m.Priority = d.u8()
	m.NodeID = d.u32()
	m.LayerID = d.u16()
	m.Version = d.u32()
	m.CRC32 = d.u32()
}

// LayerSetValue writes one item. The server sends the same command back to
// subscribers when a value changes.
type LayerSetValue struct {
	Priority uint8
	NodeID   uint32
	LayerID  uint16
	ItemID   uint32
	Value    Value
}

func (m *LayerSetValue) Opcode() Opcode { return OpLayerSetValue }

func (m *LayerSetValue) encode(e *encoder) error {
	e.u8(m.Priority)
	e.u32(m.NodeID)
	e.u16(m.LayerID)
	e.u32(m.ItemID)
	return m.Value.encode(e)
}

func (m *LayerSetValue) decode(d *decoder) {
	m.Priority = d.u8()
	m.NodeID = d.u32()
	m.LayerID = d.u16()
	m.ItemID = d.u32()
	m.Value.decode(d)
}
