package server

import (
	"github.com/pcarver/beacon/internal/stats"
	"github.com/pcarver/beacon/internal/types"
)

// joinVoice moves s into the named voice channel, leaving its current one
// first. Existing members are told about the newcomer so each of them
// initiates a WebRTC offer; the joiner gets back the current member list.
func (cs *ChatServer) joinVoice(s *Session, name string) error {
	cs.mu.Lock()
	_, ok := cs.voiceChannels[name]
	cs.mu.Unlock()
	if !ok {
		return ErrChannelNotFound
	}

	if s.VoiceChannel() == name {
		return nil
	}
	cs.leaveVoice(s)

	ident, _ := s.Identity()

	cs.mu.Lock()
	// Look the room up again: it may have been deleted while we were
	// leaving the previous channel, and inserting into a removed room
	// would strand the member.
	room, ok := cs.voiceChannels[name]
	if !ok {
		cs.mu.Unlock()
		return ErrChannelNotFound
	}
	room.members[s] = struct{}{}
	s.setVoiceChannel(name)
	members := make([]types.UserInfo, 0, len(room.members))
	for m := range room.members {
		mIdent, ok := m.Identity()
		if !ok {
			continue
		}
		members = append(members, types.UserInfo{Name: mIdent.Name, Status: m.Status(), VoiceChannel: name})
	}
	cs.mu.Unlock()

	cs.stats.Incr(stats.VoiceParticipants)

	cs.broadcast(&broadcastReq{
		frame:   &Frame{Type: TypeVoiceJoin, User: ident.Name, Channel: name, Ts: nowMillis()},
		scope:   scopeVoice,
		channel: name,
		skip:    s,
	})

	s.queueFrame(&Frame{Type: TypeVoiceJoin, User: ident.Name, Channel: name, Users: members, Ts: nowMillis()})
	return nil
}

// leaveVoice removes s from its voice channel, if any, and tells the
// remaining members. Safe to call for sessions not in a voice channel.
func (cs *ChatServer) leaveVoice(s *Session) {
	name := s.VoiceChannel()
	if name == "" {
		return
	}

	cs.mu.Lock()
	var removed bool
	if room, ok := cs.voiceChannels[name]; ok {
		if _, member := room.members[s]; member {
			delete(room.members, s)
			removed = true
		}
	}
	cs.mu.Unlock()

	s.setVoiceChannel("")
	// Only the call that actually removed the member announces it and
	// adjusts the gauge, so a concurrent eviction cannot double-count.
	if !removed {
		return
	}

	cs.stats.Decr(stats.VoiceParticipants)

	ident, _ := s.Identity()
	cs.broadcast(&broadcastReq{
		frame:   &Frame{Type: TypeVoiceLeave, User: ident.Name, Channel: name, Ts: nowMillis()},
		scope:   scopeVoice,
		channel: name,
	})
}

// relaySignal forwards an offer/answer/candidate frame verbatim to the
// named target, but only when sender and target are members of the same
// voice channel. Anything else is dropped silently so a stale peer learns
// nothing about membership.
func (cs *ChatServer) relaySignal(s *Session, frame *Frame) {
	name := s.VoiceChannel()
	if name == "" || frame.Target == "" {
		return
	}

	cs.mu.Lock()
	room, ok := cs.voiceChannels[name]
	if !ok {
		cs.mu.Unlock()
		return
	}

	var target *Session
	for m := range room.members {
		if mIdent, authed := m.Identity(); authed && mIdent.Name == frame.Target {
			target = m
			break
		}
	}
	cs.mu.Unlock()

	if target == nil || target == s {
		return
	}

	ident, _ := s.Identity()
	target.queueFrame(&Frame{
		Type:      frame.Type,
		User:      ident.Name,
		Target:    frame.Target,
		Channel:   name,
		SDP:       frame.SDP,
		Candidate: frame.Candidate,
		Ts:        nowMillis(),
	})
}
