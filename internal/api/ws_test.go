package api

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcarver/beacon/internal/config"
	"github.com/pcarver/beacon/internal/server"
)

func Test_originAllowed(t *testing.T) {
	tt := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"no origin header", "", []string{"https://chat.example.com"}, true},
		{"no allowlist", "https://anywhere.example.com", nil, true},
		{"exact match", "https://chat.example.com", []string{"https://chat.example.com"}, true},
		{"case insensitive", "https://Chat.Example.com", []string{"https://chat.example.com"}, true},
		{"not listed", "https://evil.example.com", []string{"https://chat.example.com"}, false},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, originAllowed(tc.origin, tc.allowed))
		})
	}
}

func Test_remoteHost(t *testing.T) {
	assert.Equal(t, "10.1.2.3", remoteHost("10.1.2.3:52114"))
	assert.Equal(t, "10.1.2.3", remoteHost("10.1.2.3"))
}

// dialWs connects a websocket client to the app under test.
func dialWs(t *testing.T, a *App, origin string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(a.mux.Handler)
	t.Cleanup(srv.Close)

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *server.Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame server.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return &frame
}

func Test_serveWs_handshake(t *testing.T) {
	a := newTestApp(t, nil)
	conn := dialWs(t, a, "")

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	require.NoError(t, conn.WriteJSON(&server.Frame{
		Type:      server.TypePresence,
		User:      "alice",
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Timestamp: ts,
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(ts))),
	}))

	f := readFrame(t, conn)
	require.Equal(t, server.TypeAuthOK, f.Type)
	assert.Equal(t, "alice", f.User)

	// The welcome sequence ends with the default channel's history.
	for f.Type != server.TypeHistory {
		f = readFrame(t, conn)
	}
	assert.Equal(t, "general", f.Channel)

	require.NoError(t, conn.WriteJSON(&server.Frame{Type: server.TypePing, ID: 7}))
	f = readFrame(t, conn)
	for f.Type != server.TypePong {
		f = readFrame(t, conn)
	}
	assert.Equal(t, int64(7), f.ID)
}

func Test_serveWs_unauthenticatedFramesRejected(t *testing.T) {
	a := newTestApp(t, nil)
	conn := dialWs(t, a, "")

	require.NoError(t, conn.WriteJSON(&server.Frame{Type: server.TypeChat, Text: "hi"}))
	f := readFrame(t, conn)
	assert.Equal(t, server.TypeError, f.Type)
	assert.Equal(t, server.CodeNotAuthenticated, f.Code)
}

func Test_serveWs_originRejected(t *testing.T) {
	a := newTestApp(t, &config.Config{AllowedOrigins: []string{"https://chat.example.com"}})

	srv := httptest.NewServer(a.mux.Handler)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func Test_serveWs_malformedFrame(t *testing.T) {
	a := newTestApp(t, nil)
	conn := dialWs(t, a, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readFrame(t, conn)
	assert.Equal(t, server.TypeError, f.Type)
	assert.Equal(t, server.CodeInvalid, f.Code)
}
