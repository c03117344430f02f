package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcarver/beacon/internal/auth"
	"github.com/pcarver/beacon/internal/config"
	"github.com/pcarver/beacon/internal/database"
	"github.com/pcarver/beacon/internal/stats"
	"github.com/pcarver/beacon/internal/testutil"
)

const frameWait = 2 * time.Second

func newTestChatServer(t *testing.T, cfg *config.Config) (*ChatServer, *stats.MockStatsUpdater) {
	t.Helper()
	return newTestChatServerWithRepo(t, cfg, database.NewMemoryRepository())
}

func newTestChatServerWithRepo(t *testing.T, cfg *config.Config, repo database.Repository) (*ChatServer, *stats.MockStatsUpdater) {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.MaxMessagesPerMinute == 0 {
		cfg.MaxMessagesPerMinute = 100
	}
	if cfg.MaxAuthAttemptsPerMinute == 0 {
		cfg.MaxAuthAttemptsPerMinute = 10
	}
	if cfg.NonceExpiry == 0 {
		cfg.NonceExpiry = 5 * time.Minute
	}

	nonces := auth.NewNonceStore(cfg.NonceExpiry)
	verifier := auth.NewVerifier(cfg.ServerPassword, cfg.AdminKeys, nonces, cfg.NonceExpiry)
	st := &stats.MockStatsUpdater{}

	cs, err := NewChatServer(testutil.TestLogger(t), repo, verifier, st, cfg)
	require.NoError(t, err)

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx))
	})

	return cs, st
}

// newTestSession builds a session without a live connection. Frames queued
// for it are read straight off the send channel; the pumps are not started.
func newTestSession(t *testing.T, cs *ChatServer, remoteAddr string) *Session {
	t.Helper()
	return NewSession(nil, remoteAddr, cs, testutil.TestLogger(t))
}

// presenceFrame builds a valid presence proof for a fresh keypair.
func presenceFrame(t *testing.T, name string) *Frame {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return presenceFrameWithKey(t, name, pub, priv)
}

func presenceFrameWithKey(t *testing.T, name string, pub ed25519.PublicKey, priv ed25519.PrivateKey) *Frame {
	t.Helper()

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return &Frame{
		Type:      TypePresence,
		User:      name,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Timestamp: ts,
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(ts))),
	}
}

// authenticate runs the presence handshake for s and consumes the welcome
// frames, asserting their order.
func authenticate(t *testing.T, cs *ChatServer, s *Session, name string) {
	t.Helper()

	cs.dispatch(s, presenceFrame(t, name))
	for _, want := range []string{TypeAuthOK, TypeChannelList, TypeVoiceChannelList, TypeStatusSnapshot, TypeRoleSnapshot, TypeHistory} {
		f := recvFrame(t, s)
		require.Equal(t, want, f.Type)
	}
}

func recvFrame(t *testing.T, s *Session) *Frame {
	t.Helper()

	select {
	case f := <-s.send:
		return f
	case <-time.After(frameWait):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// waitForFrame discards queued frames until one of the wanted type arrives.
func waitForFrame(t *testing.T, s *Session, frameType string) *Frame {
	t.Helper()

	deadline := time.After(frameWait)
	for {
		select {
		case f := <-s.send:
			if f.Type == frameType {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", frameType)
			return nil
		}
	}
}

// drainFrames empties a session's queue of frames already delivered.
func drainFrames(s *Session) {
	for {
		select {
		case <-s.send:
		default:
			return
		}
	}
}

func assertNoFrame(t *testing.T, s *Session) {
	t.Helper()

	select {
	case f := <-s.send:
		t.Fatalf("unexpected %s frame", f.Type)
	case <-time.After(200 * time.Millisecond):
	}
}

func Test_register_announcesNewSession(t *testing.T) {
	cs, st := newTestChatServer(t, nil)

	alice := newTestSession(t, cs, "10.0.0.1:1")
	authenticate(t, cs, alice, "alice")

	bob := newTestSession(t, cs, "10.0.0.2:1")
	authenticate(t, cs, bob, "bob")

	// The existing session hears about the newcomer; the newcomer only
	// sees it in the roster snapshot.
	f := waitForFrame(t, alice, TypeStatusUpdate)
	assert.Equal(t, "bob", f.User)
	assert.Equal(t, "online", f.Status)

	// The newcomer must not receive announcements that were queued
	// before it registered.
	assertNoFrame(t, bob)

	assert.Equal(t, 2, st.Count(stats.ActiveSessions))
}

func Test_Deregister(t *testing.T) {
	cs, st := newTestChatServer(t, nil)

	alice := newTestSession(t, cs, "10.0.0.1:1")
	authenticate(t, cs, alice, "alice")
	bob := newTestSession(t, cs, "10.0.0.2:1")
	authenticate(t, cs, bob, "bob")

	f := waitForFrame(t, alice, TypeStatusUpdate)
	require.Equal(t, "online", f.Status)

	cs.Deregister(bob)

	f = waitForFrame(t, alice, TypeStatusUpdate)
	assert.Equal(t, "bob", f.User)
	assert.Equal(t, "offline", f.Status)
	assert.Equal(t, 1, st.Count(stats.ActiveSessions))

	// Deregistering twice announces nothing further.
	cs.Deregister(bob)
	assertNoFrame(t, alice)
}

func Test_Deregister_unauthenticated(t *testing.T) {
	cs, st := newTestChatServer(t, nil)

	s := newTestSession(t, cs, "10.0.0.1:1")
	cs.Deregister(s)
	assert.Equal(t, 0, st.Count(stats.ActiveSessions))
}

func Test_roster(t *testing.T) {
	cs, _ := newTestChatServer(t, nil)

	alice := newTestSession(t, cs, "10.0.0.1:1")
	authenticate(t, cs, alice, "alice")
	bob := newTestSession(t, cs, "10.0.0.2:1")
	authenticate(t, cs, bob, "bob")

	cs.dispatch(bob, &Frame{Type: TypeStatusUpdate, Status: "away"})
	waitForFrame(t, bob, TypeStatusUpdate)

	users := cs.roster()
	require.Len(t, users, 2)

	byName := make(map[string]string, len(users))
	for _, u := range users {
		byName[u.Name] = u.Status
	}
	assert.Equal(t, "online", byName["alice"])
	assert.Equal(t, "away", byName["bob"])
}

func Test_SetRole(t *testing.T) {
	repo := database.NewMemoryRepository()
	cs, _ := newTestChatServerWithRepo(t, nil, repo)

	alice := newTestSession(t, cs, "10.0.0.1:1")
	authenticate(t, cs, alice, "alice")

	require.NoError(t, cs.SetRole("bob", "moderator", "#ff0000"))

	f := waitForFrame(t, alice, TypeRoleUpdate)
	assert.Equal(t, "bob", f.User)
	assert.Equal(t, "moderator", f.Role)
	assert.Equal(t, "#ff0000", f.Color)

	// Later sessions see the assignment in their snapshot.
	carol := newTestSession(t, cs, "10.0.0.3:1")
	cs.dispatch(carol, presenceFrame(t, "carol"))
	f = waitForFrame(t, carol, TypeRoleSnapshot)
	require.Len(t, f.Roles, 1)
	assert.Equal(t, "bob", f.Roles[0].User)
	assert.Equal(t, "moderator", f.Roles[0].Role)
}

func Test_loadState(t *testing.T) {
	repo := database.NewMemoryRepository()
	require.NoError(t, repo.CreateChannel(database.Channel{Name: "dev", Topic: "builds"}))
	require.NoError(t, repo.CreateVoiceChannel(database.VoiceChannel{Name: "standup", Quality: "high", Bitrate: 64000}))
	require.NoError(t, repo.UpsertRole(database.RoleAssignment{User: "alice", Role: "admin", Color: "#00ff00"}))

	// A message that expired while the server was down is purged during
	// startup.
	past := time.Now().Add(-time.Hour)
	id, err := repo.CreateMessage(database.CreateMessageParams{
		Channel: "general", Author: "alice", Text: "gone", CreatedAt: past.Add(-time.Minute), ExpiresAt: &past,
	})
	require.NoError(t, err)

	cs, _ := newTestChatServerWithRepo(t, nil, repo)

	assert.True(t, cs.channelExists("dev"))
	assert.True(t, cs.channelExists(DefaultChannel))

	vcs := cs.voiceChannelList()
	require.Len(t, vcs, 1)
	assert.Equal(t, "standup", vcs[0].Name)
	assert.Equal(t, 64000, vcs[0].Bitrate)

	roles := cs.roleSnapshot()
	require.Len(t, roles, 1)
	assert.Equal(t, "alice", roles[0].User)

	_, err = repo.GetMessage(id)
	assert.Error(t, err)
}

func Test_Shutdown_closesSessions(t *testing.T) {
	cfg := &config.Config{MaxMessagesPerMinute: 100, MaxAuthAttemptsPerMinute: 10, NonceExpiry: 5 * time.Minute}
	nonces := auth.NewNonceStore(cfg.NonceExpiry)
	verifier := auth.NewVerifier("", nil, nonces, cfg.NonceExpiry)

	cs, err := NewChatServer(testutil.TestLogger(t), database.NewMemoryRepository(), verifier, &stats.MockStatsUpdater{}, cfg)
	require.NoError(t, err)
	go cs.Run()

	s := newTestSession(t, cs, "10.0.0.1:1")
	authenticate(t, cs, s, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cs.Shutdown(ctx))

	select {
	case <-s.stop:
	default:
		t.Fatal("expected session to be stopped after shutdown")
	}
}
