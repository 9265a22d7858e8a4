// Package upload drives one session from authentication to a finished mesh
// upload.
//
// The Machine is fed inbound commands one at a time and reacts by sending
// commands through its Gateway. Ids the server hands out arrive in any order;
// every step that needs one is issued only once that id is recorded in the
// Context, and each step is issued at most once.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/InsulaLabs/meshsync/internal/events"
	"github.com/InsulaLabs/meshsync/internal/wire"
)

const DefaultProgressEvery = 10000

var (
	ErrNoSupportedAuthMethod = errors.New("server offers no supported authentication method")
	ErrPrompt                = errors.New("could not read credentials")
	ErrLayerNotReady         = errors.New("layer id not known yet")
	ErrUnknownStrategy       = errors.New("unknown upload strategy")
	ErrMissingGateway        = errors.New("gateway is required")
	ErrMissingUploader       = errors.New("uploader is required")
)

// TerminatedError is returned by Handle when the server ends the session.
type TerminatedError struct {
	Reason wire.TermReason
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("session terminated: %s", e.Reason)
}

// Gateway is where the machine sends its commands.
type Gateway interface {
	Send(m wire.Message) error
}

type Config struct {
	Gateway     Gateway
	Uploader    Uploader
	Credentials Credentials
	Prompter    Prompter

	// Events, when set, receives every inbound command on events.TopicInbound
	// and every sent command on events.TopicWritten.
	Events    events.PubSub
	SessionID string

	Priority            uint8
	ProgressEvery       int
	TerminateOnComplete bool

	Logger *slog.Logger
}

type Machine struct {
	gateway  Gateway
	uploader Uploader
	creds    Credentials
	prompter Prompter
	logger   *slog.Logger

	inbound events.TopicPublisher
	written events.TopicPublisher

	priority            uint8
	progressEvery       int
	terminateOnComplete bool

	ctx         *Context
	uploadStart time.Time
	summary     Summary
}

func New(cfg Config) (*Machine, error) {
	if cfg.Gateway == nil {
		return nil, ErrMissingGateway
	}
	if cfg.Uploader == nil {
		return nil, ErrMissingUploader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	priority := cfg.Priority
	if priority == 0 {
		priority = wire.DefaultPriority
	}
	every := cfg.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}

	m := &Machine{
		gateway:             cfg.Gateway,
		uploader:            cfg.Uploader,
		creds:               cfg.Credentials,
		prompter:            cfg.Prompter,
		logger:              logger.WithGroup("upload"),
		priority:            priority,
		progressEvery:       every,
		terminateOnComplete: cfg.TerminateOnComplete,
		ctx:                 NewContext(),
	}
	if cfg.Events != nil {
		var err error
		if m.inbound, err = cfg.Events.GetPublisher(cfg.SessionID, events.TopicInbound); err != nil {
			return nil, fmt.Errorf("inbound publisher: %w", err)
		}
		if m.written, err = cfg.Events.GetPublisher(cfg.SessionID, events.TopicWritten); err != nil {
			return nil, fmt.Errorf("written publisher: %w", err)
		}
	}
	return m, nil
}

// Context exposes the recorded session state. It must only be read from the
// goroutine that calls Handle.
func (m *Machine) Context() *Context {
	return m.ctx
}

func (m *Machine) Phase() Phase {
	return m.ctx.Phase()
}

// Summary is valid once Context().UploadDone() is true.
func (m *Machine) Summary() Summary {
	return m.summary
}

// Handle dispatches one inbound command. Any error it returns ends the
// session; a *TerminatedError means the server ended it.
func (m *Machine) Handle(msg wire.Message) error {
	m.logger.Debug("Inbound", "op", msg.Opcode().String(), "msg", fmt.Sprintf("%+v", msg))
	m.publish(m.inbound, msg)

	switch msg := msg.(type) {
	case *wire.AuthenticateRequest:
		return m.handleAuthenticate(msg)
	case *wire.ConnectAccept:
		return m.handleConnectAccept(msg)
	case *wire.ConnectTerminate:
		m.logger.Info("Server terminated the session", "reason", msg.Reason.String())
		return &TerminatedError{Reason: msg.Reason}
	case *wire.NodeCreated:
		return m.handleNodeCreated(msg)
	case *wire.LayerCreated:
		return m.handleLayerCreated(msg)
	case *wire.LayerSetValue:
		return nil
	default:
		m.logger.Warn("Ignoring unexpected command", "op", msg.Opcode().String())
		return nil
	}
}

func (m *Machine) send(msg wire.Message) error {
	if err := m.gateway.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Opcode(), err)
	}
	m.publish(m.written, msg)
	return nil
}

func (m *Machine) publish(pub events.TopicPublisher, msg wire.Message) {
	if pub == nil {
		return
	}
	if err := pub.Publish(context.Background(), msg); err != nil {
		m.logger.Warn("Failed to publish event", "op", msg.Opcode().String(), "error", err)
	}
}

func (m *Machine) runUpload() error {
	m.uploadStart = time.Now()
	m.logger.Info("Layers ready, uploading",
		"mesh", m.ctx.MeshID, "vertexLayer", m.ctx.VertexLayerID, "faceLayer", m.ctx.FaceLayerID)

	if err := m.uploader.Upload(layerWriter{m: m}); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	m.ctx.uploadDone = true
	m.summary = Summary{
		Vertices: m.ctx.VerticesWritten,
		Faces:    m.ctx.FacesWritten,
		Elapsed:  time.Since(m.uploadStart),
	}
	m.logger.Info("Upload complete",
		"vertices", m.summary.Vertices, "faces", m.summary.Faces, "elapsed", m.summary.Elapsed)

	if m.terminateOnComplete {
		return m.send(&wire.ConnectTerminate{Reason: wire.TermClient})
	}
	return nil
}

func (m *Machine) progress() {
	n := m.ctx.VerticesWritten + m.ctx.FacesWritten
	if n%m.progressEvery == 0 {
		m.logger.Info("Upload progress", "vertices", m.ctx.VerticesWritten, "faces", m.ctx.FacesWritten)
	}
}
