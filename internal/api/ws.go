package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pcarver/beacon/internal/server"
)

// serveWs upgrades the request into an unauthenticated session. Identity is
// established afterwards by a presence frame over the socket.
func (a *App) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), a.cfg.AllowedOrigins)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Printf("ws upgrade: %v", err)
		return
	}

	s := server.NewSession(conn, remoteHost(r.RemoteAddr), a.cs, a.log)
	go s.Write()
	go s.Read()
}

// originAllowed admits requests with no Origin header (native clients) and
// any origin when no allowlist is configured.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}

	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), origin) {
			return true
		}
	}
	return false
}

// remoteHost strips the port so pre-auth rate limiting keys on the
// connecting address, not the ephemeral port.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
