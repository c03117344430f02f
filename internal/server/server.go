package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pcarver/beacon/internal/auth"
	"github.com/pcarver/beacon/internal/config"
	"github.com/pcarver/beacon/internal/database"
	"github.com/pcarver/beacon/internal/ratelimit"
	"github.com/pcarver/beacon/internal/stats"
	"github.com/pcarver/beacon/internal/types"
)

// DefaultChannel is the text channel every session joins on authentication.
// It always exists and cannot be deleted.
const DefaultChannel = "general"

type broadcastScope int

const (
	scopeGlobal broadcastScope = iota
	scopeChannel
	scopeVoice
)

type broadcastReq struct {
	frame   *Frame
	scope   broadcastScope
	channel string // text or voice channel name, per scope
	skip    *Session
	targets []*Session // audience resolved when the frame is enqueued
}

// ChatServer is the authoritative registry of live sessions, channels,
// voice channels, and role assignments. All outbound fan-out is serialized
// through its run loop; registries are mutated under mu with short critical
// sections.
type ChatServer struct {
	log         *log.Logger
	repo        database.Repository
	store       *MessageStore
	scheduler   *Scheduler
	verifier    *auth.Verifier
	authLimiter *ratelimit.Limiter
	msgLimiter  *ratelimit.Limiter
	stats       stats.StatsProvider

	mu            sync.Mutex
	sessions      map[*Session]struct{}
	channels      map[string]string // name -> topic
	voiceChannels map[string]*voiceRoom
	roles         map[string]types.RoleAssignment

	broadcastChan chan *broadcastReq
	stop          chan struct{}
	done          chan struct{}
}

type voiceRoom struct {
	info    types.VoiceChannel
	members map[*Session]struct{}
}

func NewChatServer(logger *log.Logger, repo database.Repository, verifier *auth.Verifier, st stats.StatsProvider, cfg *config.Config) (*ChatServer, error) {
	cs := &ChatServer{
		log:           logger,
		repo:          repo,
		store:         NewMessageStore(repo),
		verifier:      verifier,
		authLimiter:   ratelimit.New(cfg.MaxAuthAttemptsPerMinute, time.Minute),
		msgLimiter:    ratelimit.New(cfg.MaxMessagesPerMinute, time.Minute),
		stats:         st,
		sessions:      make(map[*Session]struct{}),
		channels:      make(map[string]string),
		voiceChannels: make(map[string]*voiceRoom),
		roles:         make(map[string]types.RoleAssignment),
		broadcastChan: make(chan *broadcastReq, 256),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	cs.scheduler = NewScheduler(cs.store, cs.broadcastRemoval, logger)

	if err := cs.loadState(); err != nil {
		return nil, err
	}

	return cs, nil
}

// loadState restores channels, voice channels, and roles from the
// datastore, purges messages that expired while the server was down, and
// re-arms timers for the rest.
func (cs *ChatServer) loadState() error {
	channels, err := cs.repo.ListChannels()
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	for _, ch := range channels {
		cs.channels[ch.Name] = ch.Topic
	}
	if _, ok := cs.channels[DefaultChannel]; !ok {
		if err := cs.repo.CreateChannel(database.Channel{Name: DefaultChannel}); err != nil {
			return fmt.Errorf("create default channel: %w", err)
		}
		cs.channels[DefaultChannel] = ""
	}

	voiceChannels, err := cs.repo.ListVoiceChannels()
	if err != nil {
		return fmt.Errorf("list voice channels: %w", err)
	}
	for _, vc := range voiceChannels {
		cs.voiceChannels[vc.Name] = &voiceRoom{
			info:    types.VoiceChannel{Name: vc.Name, Quality: vc.Quality, Bitrate: vc.Bitrate},
			members: make(map[*Session]struct{}),
		}
	}

	roles, err := cs.repo.ListRoles()
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	for _, r := range roles {
		cs.roles[r.User] = types.RoleAssignment{User: r.User, Role: r.Role, Color: r.Color}
	}

	expired, err := cs.store.Expired(time.Now())
	if err != nil {
		return fmt.Errorf("list expired messages: %w", err)
	}
	for _, msg := range expired {
		if _, err := cs.store.Delete(msg.ID); err != nil {
			cs.log.Printf("purge expired message %d: %v", msg.ID, err)
		}
	}

	return nil
}

// ScheduleExpiries re-arms timers for persisted ephemeral messages. Called
// once at startup, after the hub is running.
func (cs *ChatServer) ScheduleExpiries() {
	now := time.Now()
	expiring, err := cs.store.Expired(now.Add(MaxMessageLifetime))
	if err != nil {
		cs.log.Printf("schedule expiries: %v", err)
		return
	}
	for _, msg := range expiring {
		if msg.ExpiresAt != nil {
			cs.scheduler.Schedule(msg.ID, msg.Channel, *msg.ExpiresAt)
		}
	}
}

// Run serializes fan-out until Shutdown.
func (cs *ChatServer) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go cs.scheduler.Run()
	go cs.authLimiter.Run(ctx)
	go cs.msgLimiter.Run(ctx)

	for {
		select {
		case req := <-cs.broadcastChan:
			cs.fanout(req)
		case <-cs.stop:
			cs.scheduler.Shutdown()
			cs.closeAllSessions()
			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("shutting down chat server")
	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) closeAllSessions() {
	cs.mu.Lock()
	sessions := make([]*Session, 0, len(cs.sessions))
	for s := range cs.sessions {
		sessions = append(sessions, s)
	}
	cs.sessions = make(map[*Session]struct{})
	cs.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// register adds an authenticated session to the registry and announces it.
func (cs *ChatServer) register(s *Session) {
	cs.mu.Lock()
	cs.sessions[s] = struct{}{}
	cs.mu.Unlock()

	cs.stats.Incr(stats.ActiveSessions)

	ident, _ := s.Identity()
	cs.broadcast(&broadcastReq{
		frame: &Frame{Type: TypeStatusUpdate, User: ident.Name, Status: s.Status(), Ts: nowMillis()},
		scope: scopeGlobal,
		skip:  s,
	})
}

// Deregister removes a session from every registry. The removal is visible
// before the offline announcement is queued, so no broadcast is delivered
// to the session afterwards.
func (cs *ChatServer) Deregister(s *Session) {
	ident, ok := s.Identity()
	if !ok {
		return
	}

	cs.mu.Lock()
	if _, registered := cs.sessions[s]; !registered {
		cs.mu.Unlock()
		return
	}
	delete(cs.sessions, s)
	cs.mu.Unlock()

	cs.stats.Decr(stats.ActiveSessions)
	cs.leaveVoice(s)

	cs.broadcast(&broadcastReq{
		frame: &Frame{Type: TypeStatusUpdate, User: ident.Name, Status: "offline", Ts: nowMillis()},
		scope: scopeGlobal,
	})
}

// broadcast resolves the audience at enqueue time, so sessions that
// register or join a channel afterwards never receive earlier frames, then
// hands the frame to the run loop.
func (cs *ChatServer) broadcast(req *broadcastReq) {
	req.targets = cs.recipients(req)
	select {
	case cs.broadcastChan <- req:
	case <-cs.stop:
	}
}

func (cs *ChatServer) recipients(req *broadcastReq) []*Session {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var targets []*Session
	switch req.scope {
	case scopeVoice:
		room, ok := cs.voiceChannels[req.channel]
		if !ok {
			return nil
		}
		for s := range room.members {
			if s != req.skip {
				targets = append(targets, s)
			}
		}
	case scopeChannel:
		for s := range cs.sessions {
			if s != req.skip && s.Channel() == req.channel {
				targets = append(targets, s)
			}
		}
	default:
		for s := range cs.sessions {
			if s != req.skip {
				targets = append(targets, s)
			}
		}
	}
	return targets
}

// fanout delivers to the resolved audience, dropping sessions that were
// deregistered while the frame sat in the queue.
func (cs *ChatServer) fanout(req *broadcastReq) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, s := range req.targets {
		if _, registered := cs.sessions[s]; registered {
			s.queueFrame(req.frame)
		}
	}
}

func (cs *ChatServer) broadcastRemoval(channel string, id int64) {
	cs.stats.Incr(stats.MessagesExpired)
	cs.broadcast(&broadcastReq{
		frame:   &Frame{Type: TypeMessageRemoved, MessageID: id, Channel: channel, Ts: nowMillis()},
		scope:   scopeChannel,
		channel: channel,
	})
}

// roster snapshots every registered session as a UserInfo entry.
func (cs *ChatServer) roster() []types.UserInfo {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	users := make([]types.UserInfo, 0, len(cs.sessions))
	for s := range cs.sessions {
		ident, ok := s.Identity()
		if !ok {
			continue
		}
		users = append(users, types.UserInfo{
			Name:         ident.Name,
			Status:       s.Status(),
			VoiceChannel: s.VoiceChannel(),
		})
	}
	return users
}

// SetRole assigns a role to an identity, persists it, and announces the
// change to every session. Invoked by the token-gated HTTP endpoint.
func (cs *ChatServer) SetRole(user, role, color string) error {
	if err := cs.repo.UpsertRole(database.RoleAssignment{User: user, Role: role, Color: color}); err != nil {
		return fmt.Errorf("persist role: %w", err)
	}

	cs.mu.Lock()
	cs.roles[user] = types.RoleAssignment{User: user, Role: role, Color: color}
	cs.mu.Unlock()

	cs.broadcast(&broadcastReq{
		frame: &Frame{Type: TypeRoleUpdate, User: user, Role: role, Color: color, Ts: nowMillis()},
		scope: scopeGlobal,
	})
	return nil
}

func (cs *ChatServer) roleSnapshot() []types.RoleAssignment {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	roles := make([]types.RoleAssignment, 0, len(cs.roles))
	for _, r := range cs.roles {
		roles = append(roles, r)
	}
	return roles
}
