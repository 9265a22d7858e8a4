package wire

// DefaultPriority is the priority used for every command the client sends.
const DefaultPriority uint8 = 128

// Reserved nodes that exist on every server before any client connects.
const (
	RootNodeID         uint32 = 0
	AvatarParentNodeID uint32 = 1
	UserParentNodeID   uint32 = 2
	SceneParentNodeID  uint32 = 3
)

// NoParentLayer marks a layer created directly on a node.
const NoParentLayer uint16 = 0xFFFF

const (
	MaxUsernameLength = 64
	MaxSecretLength   = 128
	MaxAuthMethods    = 8
)

type AuthMethod uint8

const (
	AuthReserved AuthMethod = iota
	AuthNone
	AuthPassword
)

func (m AuthMethod) String() string {
	switch m {
	case AuthNone:
		return "none"
	case AuthPassword:
		return "password"
	default:
		return "reserved"
	}
}

// TermReason is carried by ConnectTerminate in both directions.
type TermReason uint8

const (
	TermReserved TermReason = iota
	TermHostUnknown
	TermHostDown
	TermServerDown
	TermAuthFailed
	TermTimeout
	TermError
	TermClient
	TermServer
)

// String returns the operator-facing description of the reason.
func (r TermReason) String() string {
	switch r {
	case TermAuthFailed:
		return "User authentication failed"
	case TermHostDown:
		return "Host is not accessible"
	case TermHostUnknown:
		return "Host could not be found"
	case TermServerDown:
		return "Server is not running"
	case TermTimeout:
		return "Connection timeout"
	case TermError:
		return "Connection with server was broken"
	case TermServer:
		return "Connection was terminated by server"
	case TermClient:
		return "Connection was terminated by client"
	default:
		return "Unknown error"
	}
}
