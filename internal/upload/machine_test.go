package upload

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/InsulaLabs/meshsync/internal/events"
	"github.com/InsulaLabs/meshsync/internal/geometry"
	"github.com/InsulaLabs/meshsync/internal/wire"
)

const (
	userID   = 1001
	avatarID = 66
	objectID = 70
	meshID   = 71
	vertexID = 10
	edgeID   = 11
	faceID   = 12
)

type fakeGateway struct {
	sent []wire.Message
	fail error
}

func (g *fakeGateway) Send(m wire.Message) error {
	if g.fail != nil {
		return g.fail
	}
	g.sent = append(g.sent, m)
	return nil
}

func (g *fakeGateway) reset() {
	g.sent = nil
}

func sentOf[T wire.Message](g *fakeGateway) []T {
	var out []T
	for _, m := range g.sent {
		if t, ok := m.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

type fakePrompter struct {
	usernames []string
	passwords []string
	notices   []string
	err       error
}

func (p *fakePrompter) Username() (string, error) {
	if p.err != nil {
		return "", p.err
	}
	name := p.usernames[0]
	p.usernames = p.usernames[1:]
	return name, nil
}

func (p *fakePrompter) Password(notice string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.notices = append(p.notices, notice)
	secret := p.passwords[0]
	p.passwords = p.passwords[1:]
	return secret, nil
}

// quadBuffer holds one quad over four vertices.
func quadBuffer() *geometry.Buffer {
	return &geometry.Buffer{
		Format: "test",
		Vertices: []geometry.Vertex{
			{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		},
		Quads: []geometry.Quad{{0, 1, 2, 3}},
	}
}

type MachineSuite struct {
	suite.Suite
	gw       *fakeGateway
	prompter *fakePrompter
	machine  *Machine
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) SetupTest() {
	s.gw = &fakeGateway{}
	s.prompter = &fakePrompter{}
	s.machine = s.newMachine(Config{
		Uploader:    &BufferedUploader{Buffer: quadBuffer()},
		Credentials: Credentials{Username: "joe", Password: "secret"},
	})
}

func (s *MachineSuite) newMachine(cfg Config) *Machine {
	cfg.Gateway = s.gw
	if cfg.Prompter == nil {
		cfg.Prompter = s.prompter
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	m, err := New(cfg)
	s.Require().NoError(err)
	return m
}

func (s *MachineSuite) handle(msgs ...wire.Message) {
	for _, msg := range msgs {
		s.Require().NoError(s.machine.Handle(msg))
	}
}

func objectCreated() *wire.NodeCreated {
	return &wire.NodeCreated{NodeID: objectID, ParentID: avatarID, UserID: userID, CustomType: ObjectNodeType}
}

func meshCreated() *wire.NodeCreated {
	return &wire.NodeCreated{NodeID: meshID, ParentID: avatarID, UserID: userID, CustomType: MeshNodeType}
}

func layerCreated(layer, custom uint16) *wire.LayerCreated {
	return &wire.LayerCreated{NodeID: meshID, ParentLayerID: wire.NoParentLayer, LayerID: layer, CustomType: custom}
}

func (s *MachineSuite) TestAuthentication_UsernameThenConfiguredPassword() {
	s.handle(&wire.AuthenticateRequest{Methods: []wire.AuthMethod{wire.AuthPassword}})
	s.handle(&wire.AuthenticateRequest{Username: "joe", Methods: []wire.AuthMethod{wire.AuthPassword}})

	s.Equal([]*wire.UserAuthenticate{
		{Username: "joe", Method: wire.AuthNone},
		{Username: "joe", Method: wire.AuthPassword, Secret: "secret"},
	}, sentOf[*wire.UserAuthenticate](s.gw))
	s.Equal(1, s.machine.Context().AuthAttempts)
}

func (s *MachineSuite) TestAuthentication_RetriesPrompt() {
	s.prompter.passwords = []string{"second", "third"}
	challenge := &wire.AuthenticateRequest{Username: "joe", Methods: []wire.AuthMethod{wire.AuthNone, wire.AuthPassword}}

	s.handle(&wire.AuthenticateRequest{}, challenge, challenge, challenge)

	auths := sentOf[*wire.UserAuthenticate](s.gw)
	s.Require().Len(auths, 4)
	s.Equal("secret", auths[1].Secret)
	s.Equal("second", auths[2].Secret)
	s.Equal("third", auths[3].Secret)
	s.Equal([]string{RetryNotice, RetryNotice}, s.prompter.notices)
	s.Equal(3, s.machine.Context().AuthAttempts)

	s.handle(&wire.AuthenticateRequest{})
	s.Equal(0, s.machine.Context().AuthAttempts)
}

func (s *MachineSuite) TestAuthentication_PromptsWhenNotConfigured() {
	s.prompter.usernames = []string{"ann"}
	s.prompter.passwords = []string{"typed"}
	s.machine = s.newMachine(Config{Uploader: &BufferedUploader{Buffer: quadBuffer()}})

	s.handle(&wire.AuthenticateRequest{})
	s.handle(&wire.AuthenticateRequest{Username: "ann", Methods: []wire.AuthMethod{wire.AuthPassword}})

	auths := sentOf[*wire.UserAuthenticate](s.gw)
	s.Require().Len(auths, 2)
	s.Equal("ann", auths[0].Username)
	s.Equal("typed", auths[1].Secret)
	s.Equal([]string{""}, s.prompter.notices)
}

func (s *MachineSuite) TestAuthentication_Fatal() {
	s.prompter.err = errors.New("no tty")
	m := s.newMachine(Config{Uploader: &BufferedUploader{Buffer: quadBuffer()}})
	s.ErrorIs(m.Handle(&wire.AuthenticateRequest{}), ErrPrompt)

	err := s.machine.Handle(&wire.AuthenticateRequest{Username: "joe", Methods: []wire.AuthMethod{wire.AuthNone}})
	s.ErrorIs(err, ErrNoSupportedAuthMethod)
	s.Empty(s.gw.sent)
}

func (s *MachineSuite) TestConnectAccept() {
	s.Equal(Disconnected, s.machine.Phase())
	s.handle(&wire.ConnectAccept{UserID: userID, AvatarID: avatarID})

	s.Equal([]wire.Message{
		&wire.NodeSubscribe{Priority: wire.DefaultPriority, NodeID: wire.RootNodeID},
		&wire.NodeSubscribe{Priority: wire.DefaultPriority, NodeID: wire.AvatarParentNodeID},
		&wire.NodeCreate{Priority: wire.DefaultPriority, UserID: userID, CustomType: ObjectNodeType},
		&wire.NodeCreate{Priority: wire.DefaultPriority, UserID: userID, CustomType: MeshNodeType},
	}, s.gw.sent)
	s.Equal(ObjectRequested, s.machine.Phase())
	s.Equal(ID(userID), s.machine.Context().UserID)
	s.Equal(ID(avatarID), s.machine.Context().AvatarID)

	s.gw.reset()
	s.handle(&wire.ConnectAccept{UserID: 5, AvatarID: 6})
	s.Empty(s.gw.sent)
	s.Equal(ID(avatarID), s.machine.Context().AvatarID)
}

func (s *MachineSuite) TestScene_ObjectFirst() {
	s.handle(&wire.ConnectAccept{UserID: userID, AvatarID: avatarID})
	s.gw.reset()

	s.handle(objectCreated())
	s.Equal(ObjectLinked, s.machine.Phase())
	s.Equal([]wire.Message{
		&wire.NodeSubscribe{Priority: wire.DefaultPriority, NodeID: objectID},
		&wire.NodeLink{Priority: wire.DefaultPriority, ParentID: wire.SceneParentNodeID, ChildID: objectID},
	}, s.gw.sent)

	s.handle(meshCreated())
	s.GreaterOrEqual(s.machine.Phase(), MeshLinked)
	s.Equal(LayersRequested, s.machine.Phase())
	s.Equal([]*wire.NodeLink{
		{Priority: wire.DefaultPriority, ParentID: wire.SceneParentNodeID, ChildID: objectID},
		{Priority: wire.DefaultPriority, ParentID: objectID, ChildID: meshID},
	}, sentOf[*wire.NodeLink](s.gw))
	s.assertLayersRequested()
}

func (s *MachineSuite) TestScene_MeshFirst() {
	s.handle(&wire.ConnectAccept{UserID: userID, AvatarID: avatarID})
	s.gw.reset()

	s.handle(meshCreated())
	// The phase follows linking; the layer request is tracked on its own.
	s.Equal(MeshRequested, s.machine.Phase())
	s.True(s.machine.Context().LayersRequested())
	s.Empty(sentOf[*wire.NodeLink](s.gw))
	s.assertLayersRequested()

	s.handle(objectCreated())
	s.Equal(LayersRequested, s.machine.Phase())
	s.Equal([]*wire.NodeLink{
		{Priority: wire.DefaultPriority, ParentID: wire.SceneParentNodeID, ChildID: objectID},
		{Priority: wire.DefaultPriority, ParentID: objectID, ChildID: meshID},
	}, sentOf[*wire.NodeLink](s.gw))
}

func (s *MachineSuite) TestScene_DuplicatesAbsorbed() {
	s.handle(&wire.ConnectAccept{UserID: userID, AvatarID: avatarID})
	s.handle(objectCreated(), meshCreated(), meshCreated(), objectCreated())

	s.Len(sentOf[*wire.NodeLink](s.gw), 2)
	s.Len(sentOf[*wire.LayerCreate](s.gw), 3)
	s.Equal(ID(objectID), s.machine.Context().ObjectID)
	s.Equal(ID(meshID), s.machine.Context().MeshID)
}

func (s *MachineSuite) TestScene_ForeignNodesOnlySubscribed() {
	s.handle(&wire.ConnectAccept{UserID: userID, AvatarID: avatarID})
	s.gw.reset()

	s.handle(&wire.NodeCreated{NodeID: 500, ParentID: 1, CustomType: ObjectNodeType})
	s.Equal([]wire.Message{
		&wire.NodeSubscribe{Priority: wire.DefaultPriority, NodeID: 500},
	}, s.gw.sent)
	s.False(s.machine.Context().ObjectID.Known())
}

func (s *MachineSuite) assertLayersRequested() {
	s.Equal([]*wire.LayerCreate{
		{Priority: wire.DefaultPriority, NodeID: meshID, ParentLayerID: wire.NoParentLayer, DataType: wire.TypeReal64, Count: 3, CustomType: VertexLayerType},
		{Priority: wire.DefaultPriority, NodeID: meshID, ParentLayerID: wire.NoParentLayer, DataType: wire.TypeUint32, Count: 2, CustomType: EdgeLayerType},
		{Priority: wire.DefaultPriority, NodeID: meshID, ParentLayerID: wire.NoParentLayer, DataType: wire.TypeUint32, Count: 4, CustomType: FaceLayerType},
	}, sentOf[*wire.LayerCreate](s.gw))
}

// runToLayers drives the machine until the three layers exist.
func (s *MachineSuite) runToLayers() {
	s.handle(
		&wire.ConnectAccept{UserID: userID, AvatarID: avatarID},
		objectCreated(),
		meshCreated(),
		layerCreated(vertexID, VertexLayerType),
		layerCreated(edgeID, EdgeLayerType),
		layerCreated(faceID, FaceLayerType),
	)
}

func (s *MachineSuite) TestUpload_Quad() {
	s.runToLayers()

	s.Equal([]*wire.LayerSubscribe{
		{Priority: wire.DefaultPriority, NodeID: meshID, LayerID: vertexID},
		{Priority: wire.DefaultPriority, NodeID: meshID, LayerID: faceID},
	}, sentOf[*wire.LayerSubscribe](s.gw))

	writes := sentOf[*wire.LayerSetValue](s.gw)
	s.Require().Len(writes, 5)
	for i, w := range writes[:4] {
		s.Equal(uint32(meshID), w.NodeID)
		s.Equal(uint16(vertexID), w.LayerID)
		s.Equal(uint32(i), w.ItemID)
		s.Equal(wire.TypeReal64, w.Value.Type)
		s.Equal(3, w.Value.Count())
	}
	s.Equal([]float64{1, 1, 0}, writes[2].Value.Reals)

	face := writes[4]
	s.Equal(uint16(faceID), face.LayerID)
	s.Equal(uint32(0), face.ItemID)
	s.Equal(wire.UintValue(wire.TypeUint32, 0, 1, 2, 3), face.Value)

	ctx := s.machine.Context()
	s.True(ctx.UploadDone())
	s.Equal(Summary{Vertices: 4, Faces: 1, Elapsed: s.machine.Summary().Elapsed}, s.machine.Summary())
}

func (s *MachineSuite) TestUpload_Triangle() {
	q, err := geometry.PackQuad(geometry.Face{2, 0, 1})
	s.Require().NoError(err)
	s.machine = s.newMachine(Config{
		Uploader: &BufferedUploader{Buffer: &geometry.Buffer{
			Vertices: []geometry.Vertex{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
			Quads:    []geometry.Quad{q},
		}},
	})
	s.runToLayers()

	writes := sentOf[*wire.LayerSetValue](s.gw)
	s.Require().Len(writes, 4)
	face := writes[3].Value.Uints
	s.Equal(uint64(0), face[3])
	s.Equal(uint64(2), face[2])
}

func (s *MachineSuite) TestUpload_ExactlyOnce() {
	s.runToLayers()
	s.handle(
		layerCreated(vertexID, VertexLayerType),
		layerCreated(faceID, FaceLayerType),
		layerCreated(faceID+5, FaceLayerType),
	)
	s.Len(sentOf[*wire.LayerSetValue](s.gw), 5)
	s.Len(sentOf[*wire.LayerSubscribe](s.gw), 2)
	s.Equal(ID(faceID), s.machine.Context().FaceLayerID)
}

func (s *MachineSuite) TestUpload_WaitsForBothLayers() {
	s.handle(
		&wire.ConnectAccept{UserID: userID, AvatarID: avatarID},
		meshCreated(),
		layerCreated(faceID, FaceLayerType),
		layerCreated(edgeID, EdgeLayerType),
		&wire.LayerCreated{NodeID: 999, LayerID: vertexID, CustomType: VertexLayerType},
	)
	s.False(s.machine.Context().UploadStarted())
	s.Empty(sentOf[*wire.LayerSetValue](s.gw))

	s.handle(layerCreated(vertexID, VertexLayerType))
	s.True(s.machine.Context().UploadStarted())
	s.Len(sentOf[*wire.LayerSetValue](s.gw), 5)
}

func (s *MachineSuite) TestUpload_Streaming() {
	path := filepath.Join(s.T().TempDir(), "mesh.obj")
	src := "v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nf 1 2 3\nf 1 2 3 4\nf 4 1 2\n"
	s.Require().NoError(os.WriteFile(path, []byte(src), 0o644))

	up, hdr, err := NewUploader(Streaming, path)
	s.Require().NoError(err)
	s.Equal("obj", hdr.Format)
	s.machine = s.newMachine(Config{Uploader: up})
	s.runToLayers()

	writes := sentOf[*wire.LayerSetValue](s.gw)
	s.Require().Len(writes, 7)
	s.Equal(4, s.machine.Context().VerticesWritten)
	s.Equal(3, s.machine.Context().FacesWritten)
	s.Equal(wire.UintValue(wire.TypeUint32, 1, 2, 0, 0), writes[4].Value)
	s.Equal(wire.UintValue(wire.TypeUint32, 0, 1, 2, 3), writes[5].Value)
	s.Equal(wire.UintValue(wire.TypeUint32, 0, 1, 3, 0), writes[6].Value)
}

func (s *MachineSuite) TestUpload_TerminateOnComplete() {
	s.machine = s.newMachine(Config{
		Uploader:            &BufferedUploader{Buffer: quadBuffer()},
		TerminateOnComplete: true,
	})
	s.runToLayers()
	s.Equal(&wire.ConnectTerminate{Reason: wire.TermClient}, s.gw.sent[len(s.gw.sent)-1])
}

func (s *MachineSuite) TestLayerWriter_NotReady() {
	w := layerWriter{m: s.machine}
	s.ErrorIs(w.Vertex(0, geometry.Vertex{}), ErrLayerNotReady)
	s.ErrorIs(w.Face(0, geometry.Quad{}), ErrLayerNotReady)
	s.Empty(s.gw.sent)
}

func (s *MachineSuite) TestTerminated() {
	err := s.machine.Handle(&wire.ConnectTerminate{Reason: wire.TermAuthFailed})
	var term *TerminatedError
	s.Require().ErrorAs(err, &term)
	s.Equal(wire.TermAuthFailed, term.Reason)
	s.Contains(err.Error(), "User authentication failed")
}

func (s *MachineSuite) TestSendFailureIsReturned() {
	boom := errors.New("queue closed")
	s.gw.fail = boom
	s.ErrorIs(s.machine.Handle(&wire.ConnectAccept{UserID: userID, AvatarID: avatarID}), boom)
}

func (s *MachineSuite) TestEventsPublished() {
	ps := events.NewPubSub(events.Config{})
	counts := map[string]int{}
	count := events.SubscriberFunc(func(ctx context.Context, ev events.Event) {
		counts[ev.Topic]++
		s.Equal("session-x", ev.Emitter)
	})
	for _, topic := range events.DefaultTopics {
		_, err := ps.Subscribe(topic, count)
		s.Require().NoError(err)
	}

	s.machine = s.newMachine(Config{
		Uploader:  &BufferedUploader{Buffer: quadBuffer()},
		Events:    ps,
		SessionID: "session-x",
	})
	s.runToLayers()

	s.Equal(6, counts[events.TopicInbound])
	s.Equal(len(s.gw.sent), counts[events.TopicWritten])
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": Buffered, "buffered": Buffered, " Streaming ": Streaming} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseStrategy("lazy")
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestNewUploader_FileErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := NewUploader(Buffered, filepath.Join(dir, "missing.ply"))
	var fe *geometry.FileError
	require.ErrorAs(t, err, &fe)

	bad := filepath.Join(dir, "bad.obj")
	require.NoError(t, os.WriteFile(bad, []byte("v 0 0 0\nf 1 2\n"), 0o644))
	_, _, err = NewUploader(Buffered, bad)
	require.ErrorIs(t, err, geometry.ErrIndexRange)

	up, hdr, err := NewUploader(Streaming, bad)
	require.NoError(t, err, "streaming only scans the header")
	require.Equal(t, geometry.Unknown, hdr.Vertices)
	require.NotNil(t, up)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrMissingGateway)
	_, err = New(Config{Gateway: &fakeGateway{}})
	require.ErrorIs(t, err, ErrMissingUploader)
}
