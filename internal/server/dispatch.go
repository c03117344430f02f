package server

import (
	"errors"
	"time"

	"github.com/pcarver/beacon/internal/auth"
	"github.com/pcarver/beacon/internal/stats"
	"github.com/pcarver/beacon/internal/types"
)

const maxImageLength = 1024

// dispatch routes an inbound frame by its declared type. Unauthenticated
// sessions may only send a presence frame.
func (cs *ChatServer) dispatch(s *Session, frame *Frame) {
	if frame.Type == TypePresence {
		cs.handlePresence(s, frame)
		return
	}

	ident, ok := s.Identity()
	if !ok {
		s.queueFrame(errNotAuthenticated())
		return
	}

	switch frame.Type {
	case TypeChat:
		cs.handleChat(s, ident, frame)
	case TypeLoadHistory:
		cs.handleLoadHistory(s, frame)
	case TypeSearch:
		cs.handleSearch(s, frame)
	case TypeReact:
		cs.handleReact(s, ident, frame)
	case TypeJoin, TypeSwitchChannel:
		cs.handleJoin(s, frame)
	case TypeCreateChannel:
		cs.handleChannelAdmin(s, ident, frame)
	case TypeDeleteChannel:
		cs.handleChannelAdmin(s, ident, frame)
	case TypeSetTopic:
		cs.handleChannelAdmin(s, ident, frame)
	case TypeCreateVoiceChannel, TypeUpdateVoiceChannel, TypeDeleteVoiceChannel:
		cs.handleVoiceAdmin(s, ident, frame)
	case TypeVoiceJoin:
		cs.handleVoiceJoin(s, frame)
	case TypeVoiceLeave:
		cs.leaveVoice(s)
	case TypeVoiceOffer, TypeVoiceAnswer, TypeVoiceCandidate:
		cs.relaySignal(s, frame)
	case TypeStatusUpdate:
		cs.handleStatus(s, ident, frame)
	case TypePing:
		s.queueFrame(&Frame{Type: TypePong, ID: frame.ID, Ts: nowMillis()})
	default:
		s.queueFrame(errFrame(CodeInvalid, "unknown frame type"))
	}
}

// handlePresence verifies a presence proof and promotes the session.
func (cs *ChatServer) handlePresence(s *Session, frame *Frame) {
	if _, ok := s.Identity(); ok {
		s.queueFrame(errFrame(CodeInvalid, "already authenticated"))
		return
	}

	// Once an address has exceeded its budget, further attempts are
	// refused before the proof is even evaluated.
	if cs.authLimiter.Blocked(s.remoteAddr) {
		cs.stats.Incr(stats.RateLimitedEvents)
		s.queueFrame(errRateLimited("authentication"))
		s.close()
		return
	}

	name, err := validateName(frame.User)
	if err != nil {
		s.queueFrame(errFrame(CodeInvalid, err.Error()))
		return
	}

	ident, err := cs.verifier.Verify(name, frame.PublicKey, frame.Timestamp, frame.Signature, frame.Password)
	if err != nil {
		cs.stats.Incr(stats.AuthFailures)
		allowed := cs.authLimiter.Allow(s.remoteAddr)
		s.queueFrame(errFrame(CodeAuthRejected, rejectionReason(err)))
		if !allowed {
			cs.stats.Incr(stats.RateLimitedEvents)
			s.queueFrame(errRateLimited("authentication"))
			s.close()
		}
		return
	}

	s.setIdentity(ident)
	cs.register(s)

	s.queueFrame(&Frame{Type: TypeAuthOK, User: ident.Name, Admin: ident.IsAdmin, Ts: nowMillis()})
	s.queueFrame(&Frame{Type: TypeChannelList, Channels: cs.channelList(), Ts: nowMillis()})
	s.queueFrame(&Frame{Type: TypeVoiceChannelList, VoiceChannels: cs.voiceChannelList(), Ts: nowMillis()})
	s.queueFrame(&Frame{Type: TypeStatusSnapshot, Users: cs.roster(), Ts: nowMillis()})
	s.queueFrame(&Frame{Type: TypeRoleSnapshot, Roles: cs.roleSnapshot(), Ts: nowMillis()})

	// Implicit join of the default channel, with its recent history.
	cs.sendHistory(s, DefaultChannel, 0, HistoryPageLimit)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidPassword):
		return "invalid password"
	case errors.Is(err, auth.ErrStaleProof):
		return "stale presence proof"
	case errors.Is(err, auth.ErrReplayedProof):
		return "replayed presence proof"
	case errors.Is(err, auth.ErrBadSignature):
		return "bad signature"
	default:
		return "malformed presence proof"
	}
}

func (cs *ChatServer) handleChat(s *Session, ident auth.Identity, frame *Frame) {
	if !cs.msgLimiter.Allow(ident.PublicKey) {
		cs.stats.Incr(stats.RateLimitedEvents)
		s.queueFrame(errRateLimited("message"))
		return
	}

	if frame.Text == "" && frame.Image == "" {
		s.queueFrame(errFrame(CodeInvalid, "chat frame needs text or an image"))
		return
	}
	if len(frame.Text) > MaxChatLength {
		s.queueFrame(errFrame(CodeInvalid, "message too long"))
		return
	}
	if len(frame.Image) > maxImageLength {
		s.queueFrame(errFrame(CodeInvalid, "image URL too long"))
		return
	}

	// The target channel is always the session's current one.
	channel := s.Channel()

	var expiresAt *time.Time
	if frame.ExpiresAt != 0 {
		effective := ClampLifetime(time.Now(), time.Unix(frame.ExpiresAt, 0))
		expiresAt = &effective
	}

	id, createdAt, err := cs.store.Append(channel, ident.Name, frame.Text, frame.Image, expiresAt)
	if err != nil {
		// A failed write is reported to the sender, never broadcast
		// as if it had succeeded.
		cs.log.Printf("append message: %v", err)
		s.queueFrame(errInternal())
		return
	}

	out := &Frame{
		Type:    TypeChat,
		ID:      id,
		User:    ident.Name,
		Channel: channel,
		Text:    frame.Text,
		Image:   frame.Image,
		Ts:      createdAt.UnixMilli(),
	}
	if expiresAt != nil {
		// Echo the clamped expiry so the sender sees the effective value.
		out.ExpiresAt = expiresAt.Unix()
		cs.scheduler.Schedule(id, channel, *expiresAt)
	}

	cs.stats.Incr(stats.MessagesSent)
	cs.broadcast(&broadcastReq{frame: out, scope: scopeChannel, channel: channel})
}

func (cs *ChatServer) handleLoadHistory(s *Session, frame *Frame) {
	channel := frame.Channel
	if channel == "" {
		channel = s.Channel()
	}
	if !cs.channelExists(channel) {
		s.queueFrame(errNotFound("channel"))
		return
	}

	cs.sendHistory(s, channel, frame.Before, frame.Limit)
}

// sendHistory delivers a history page, degrading to an empty page plus an
// error frame when the datastore read fails.
func (cs *ChatServer) sendHistory(s *Session, channel string, before int64, limit int) {
	messages, err := cs.store.History(channel, before, limit)
	if err != nil {
		cs.log.Printf("history %q: %v", channel, err)
		s.queueFrame(errInternal())
	}
	if messages == nil {
		messages = []types.Message{}
	}
	s.queueFrame(&Frame{Type: TypeHistory, Channel: channel, Messages: messages, Ts: nowMillis()})
}

func (cs *ChatServer) handleSearch(s *Session, frame *Frame) {
	if frame.Query == "" || len(frame.Query) > MaxQueryLength {
		s.queueFrame(errFrame(CodeInvalid, "bad search query"))
		return
	}

	channel := frame.Channel
	if channel == "" {
		channel = s.Channel()
	}
	if !cs.channelExists(channel) {
		s.queueFrame(errNotFound("channel"))
		return
	}

	matches, err := cs.store.Search(channel, frame.Query, frame.Limit)
	if err != nil {
		cs.log.Printf("search %q: %v", channel, err)
		s.queueFrame(errInternal())
	}
	if matches == nil {
		matches = []types.Message{}
	}
	s.queueFrame(&Frame{Type: TypeSearchResults, Channel: channel, Query: frame.Query, Messages: matches, Ts: nowMillis()})
}

func (cs *ChatServer) handleReact(s *Session, ident auth.Identity, frame *Frame) {
	if frame.MessageID <= 0 || frame.Emoji == "" || len(frame.Emoji) > MaxEmojiLength {
		s.queueFrame(errFrame(CodeInvalid, "bad reaction"))
		return
	}

	var add bool
	switch frame.Action {
	case "add":
		add = true
	case "remove":
		add = false
	default:
		s.queueFrame(errFrame(CodeInvalid, `reaction action must be "add" or "remove"`))
		return
	}

	channel, authors, err := cs.store.React(frame.MessageID, frame.Emoji, ident.Name, add)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			s.queueFrame(errNotFound("message"))
			return
		}
		cs.log.Printf("react on %d: %v", frame.MessageID, err)
		s.queueFrame(errInternal())
		return
	}

	cs.broadcast(&broadcastReq{
		frame: &Frame{
			Type:      TypeReactionUpdate,
			MessageID: frame.MessageID,
			Emoji:     frame.Emoji,
			Action:    frame.Action,
			User:      ident.Name,
			Authors:   authors,
			Ts:        nowMillis(),
		},
		scope:   scopeChannel,
		channel: channel,
	})
}

func (cs *ChatServer) handleJoin(s *Session, frame *Frame) {
	name, err := validateName(frame.Channel)
	if err != nil {
		s.queueFrame(errFrame(CodeInvalid, err.Error()))
		return
	}
	if !cs.channelExists(name) {
		s.queueFrame(errNotFound("channel"))
		return
	}

	s.setChannel(name)
	cs.sendHistory(s, name, 0, HistoryPageLimit)
}

// requireChannelAdmin gates channel administration when an admin key set is
// configured; otherwise anyone may manage channels.
func (cs *ChatServer) requireChannelAdmin(s *Session, ident auth.Identity) bool {
	if cs.verifier.AdminGated() && !ident.IsAdmin {
		s.queueFrame(errFrame(CodeForbidden, "administration requires an admin key"))
		return false
	}
	return true
}

func (cs *ChatServer) handleChannelAdmin(s *Session, ident auth.Identity, frame *Frame) {
	if !cs.requireChannelAdmin(s, ident) {
		return
	}

	var err error
	switch frame.Type {
	case TypeCreateChannel:
		var name string
		if name, err = validateName(frame.Name); err == nil {
			err = cs.CreateChannel(name, frame.Topic)
		}
	case TypeDeleteChannel:
		err = cs.DeleteChannel(frame.Name)
	case TypeSetTopic:
		channel := frame.Channel
		if channel == "" {
			channel = s.Channel()
		}
		err = cs.SetTopic(channel, frame.Topic)
	}

	cs.replyChannelAdmin(s, err)
}

func (cs *ChatServer) handleVoiceAdmin(s *Session, ident auth.Identity, frame *Frame) {
	if !cs.requireChannelAdmin(s, ident) {
		return
	}

	if frame.Bitrate != nil && *frame.Bitrate < 0 {
		s.queueFrame(errFrame(CodeInvalid, "bitrate must be non-negative"))
		return
	}

	var err error
	switch frame.Type {
	case TypeCreateVoiceChannel:
		var name string
		if name, err = validateName(frame.Name); err == nil {
			vc := types.VoiceChannel{Name: name, Quality: frame.Quality}
			if frame.Bitrate != nil {
				vc.Bitrate = *frame.Bitrate
			}
			err = cs.CreateVoiceChannel(vc)
		}
	case TypeUpdateVoiceChannel:
		err = cs.UpdateVoiceChannel(frame.Name, frame.Quality, frame.Bitrate)
	case TypeDeleteVoiceChannel:
		err = cs.DeleteVoiceChannel(frame.Name)
	}

	cs.replyChannelAdmin(s, err)
}

func (cs *ChatServer) replyChannelAdmin(s *Session, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrChannelExists):
		s.queueFrame(errFrame(CodeChannelExists, "channel already exists"))
	case errors.Is(err, ErrChannelNotFound):
		s.queueFrame(errNotFound("channel"))
	case errors.Is(err, ErrDefaultChannel):
		s.queueFrame(errFrame(CodeForbidden, "the default channel cannot be deleted"))
	default:
		cs.log.Printf("channel admin: %v", err)
		s.queueFrame(errInternal())
	}
}

func (cs *ChatServer) handleVoiceJoin(s *Session, frame *Frame) {
	if err := cs.joinVoice(s, frame.Channel); err != nil {
		s.queueFrame(errNotFound("voice channel"))
	}
}

func (cs *ChatServer) handleStatus(s *Session, ident auth.Identity, frame *Frame) {
	if _, ok := validStatuses[frame.Status]; !ok {
		s.queueFrame(errFrame(CodeInvalid, "unknown status"))
		return
	}

	s.setStatus(frame.Status)
	cs.broadcast(&broadcastReq{
		frame: &Frame{Type: TypeStatusUpdate, User: ident.Name, Status: frame.Status, Ts: nowMillis()},
		scope: scopeGlobal,
	})
}
