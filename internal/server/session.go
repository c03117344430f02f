package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pcarver/beacon/internal/auth"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
)

// Session is one live connection. It starts unauthenticated; a valid
// presence proof promotes it to an identified session owned by the
// ChatServer registry.
type Session struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	remoteAddr string
	send       chan *Frame
	stop       chan struct{}
	stopOnce   sync.Once

	mu            sync.Mutex
	authenticated bool
	identity      auth.Identity
	channel       string
	voiceChannel  string
	status        string
}

func NewSession(conn *websocket.Conn, remoteAddr string, cs *ChatServer, l *log.Logger) *Session {
	return &Session{
		id:         shortid.MustGenerate(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		remoteAddr: remoteAddr,
		send:       make(chan *Frame, sendQueueSize),
		stop:       make(chan struct{}),
		channel:    DefaultChannel,
		status:     "online",
	}
}

func (s *Session) setIdentity(id auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	s.identity = id
}

func (s *Session) Identity() (auth.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.authenticated
}

func (s *Session) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

func (s *Session) setChannel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = name
}

func (s *Session) VoiceChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceChannel
}

func (s *Session) setVoiceChannel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceChannel = name
}

func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Write pumps queued frames to the connection and keeps the transport-level
// ping/pong heartbeat alive.
func (s *Session) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(frame)
			if err != nil {
				s.log.Printf("session %s: marshal frame: %v", s.id, err)
				continue
			}

			if !s.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-s.stop:
			// Drain what is already queued so a final error frame
			// still reaches the peer.
			for {
				select {
				case frame := <-s.send:
					bytes, err := json.Marshal(frame)
					if err != nil {
						continue
					}
					if !s.writeMessage(websocket.TextMessage, bytes) {
						return
					}
				default:
					return
				}
			}
		case <-ticker.C:
			if !s.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Read pumps inbound frames into the dispatcher until the connection drops.
func (s *Session) Read() {
	defer func() {
		s.conn.Close()
		s.cleanup()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("session %s: read: %v", s.id, err)
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.queueFrame(errFrame(CodeInvalid, "malformed frame"))
			continue
		}

		s.chatServer.dispatch(s, &frame)
	}
}

// queueFrame enqueues a frame for delivery, dropping it if the session's
// outbound queue is full so a slow peer never blocks dispatch.
func (s *Session) queueFrame(frame *Frame) bool {
	select {
	case s.send <- frame:
		return true
	default:
		s.log.Printf("session %s: send queue full, dropping %s frame", s.id, frame.Type)
		return false
	}
}

func (s *Session) writeMessage(msgType int, msg []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := s.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Printf("session %s: write: %v", s.id, err)
		}
		return false
	}

	return true
}

// close stops the write pump and closes the connection. Safe to call more
// than once.
func (s *Session) close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Session) cleanup() {
	s.chatServer.Deregister(s)
	s.close()
}
