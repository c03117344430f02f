package server

import (
	"errors"
	"fmt"

	"github.com/pcarver/beacon/internal/database"
	"github.com/pcarver/beacon/internal/stats"
	"github.com/pcarver/beacon/internal/types"
)

var (
	ErrChannelExists   = errors.New("channel already exists")
	ErrChannelNotFound = errors.New("channel not found")
	ErrDefaultChannel  = errors.New("the default channel cannot be deleted")
)

// CreateChannel registers a new text channel. Duplicate names are rejected.
func (cs *ChatServer) CreateChannel(name, topic string) error {
	cs.mu.Lock()
	if _, ok := cs.channels[name]; ok {
		cs.mu.Unlock()
		return ErrChannelExists
	}
	cs.mu.Unlock()

	if err := cs.repo.CreateChannel(database.Channel{Name: name, Topic: topic}); err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	cs.mu.Lock()
	cs.channels[name] = topic
	cs.mu.Unlock()

	cs.broadcastChannelList()
	return nil
}

// DeleteChannel removes a text channel. Deleting an unknown name is a
// no-op that still reports ErrChannelNotFound. Members of the deleted
// channel are moved back to the default channel.
func (cs *ChatServer) DeleteChannel(name string) error {
	if name == DefaultChannel {
		return ErrDefaultChannel
	}

	cs.mu.Lock()
	if _, ok := cs.channels[name]; !ok {
		cs.mu.Unlock()
		return ErrChannelNotFound
	}
	cs.mu.Unlock()

	if err := cs.repo.DeleteChannel(name); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}

	cs.mu.Lock()
	delete(cs.channels, name)
	var displaced []*Session
	for s := range cs.sessions {
		if s.Channel() == name {
			displaced = append(displaced, s)
		}
	}
	cs.mu.Unlock()

	// Leave no session pointing at a dead channel.
	for _, s := range displaced {
		s.setChannel(DefaultChannel)
		s.queueFrame(&Frame{Type: TypeSwitchChannel, Channel: DefaultChannel, Ts: nowMillis()})
	}

	cs.broadcastChannelList()
	return nil
}

// SetTopic updates a channel's topic and announces it to the channel's
// current members.
func (cs *ChatServer) SetTopic(name, topic string) error {
	cs.mu.Lock()
	if _, ok := cs.channels[name]; !ok {
		cs.mu.Unlock()
		return ErrChannelNotFound
	}
	cs.mu.Unlock()

	if err := cs.repo.UpdateChannelTopic(name, topic); err != nil {
		return fmt.Errorf("update topic: %w", err)
	}

	cs.mu.Lock()
	cs.channels[name] = topic
	cs.mu.Unlock()

	cs.broadcast(&broadcastReq{
		frame:   &Frame{Type: TypeSetTopic, Channel: name, Topic: topic, Ts: nowMillis()},
		scope:   scopeChannel,
		channel: name,
	})
	return nil
}

func (cs *ChatServer) channelExists(name string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, ok := cs.channels[name]
	return ok
}

func (cs *ChatServer) channelList() []types.Channel {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	channels := make([]types.Channel, 0, len(cs.channels))
	for name, topic := range cs.channels {
		channels = append(channels, types.Channel{Name: name, Topic: topic})
	}
	return channels
}

func (cs *ChatServer) broadcastChannelList() {
	cs.broadcast(&broadcastReq{
		frame: &Frame{Type: TypeChannelList, Channels: cs.channelList(), Ts: nowMillis()},
		scope: scopeGlobal,
	})
}

// CreateVoiceChannel registers a voice channel with its quality preset.
func (cs *ChatServer) CreateVoiceChannel(vc types.VoiceChannel) error {
	cs.mu.Lock()
	if _, ok := cs.voiceChannels[vc.Name]; ok {
		cs.mu.Unlock()
		return ErrChannelExists
	}
	cs.mu.Unlock()

	if err := cs.repo.CreateVoiceChannel(database.VoiceChannel{Name: vc.Name, Quality: vc.Quality, Bitrate: vc.Bitrate}); err != nil {
		return fmt.Errorf("create voice channel: %w", err)
	}

	cs.mu.Lock()
	cs.voiceChannels[vc.Name] = &voiceRoom{info: vc, members: make(map[*Session]struct{})}
	cs.mu.Unlock()

	cs.broadcastVoiceChannelList()
	return nil
}

// UpdateVoiceChannel changes a voice channel's quality or bitrate and
// notifies its members so they can renegotiate encoding parameters. Empty
// quality and nil bitrate each keep the current value.
func (cs *ChatServer) UpdateVoiceChannel(name, quality string, bitrate *int) error {
	cs.mu.Lock()
	room, ok := cs.voiceChannels[name]
	if !ok {
		cs.mu.Unlock()
		return ErrChannelNotFound
	}

	info := room.info
	if quality != "" {
		info.Quality = quality
	}
	if bitrate != nil {
		info.Bitrate = *bitrate
	}
	cs.mu.Unlock()

	if err := cs.repo.UpdateVoiceChannel(database.VoiceChannel{Name: name, Quality: info.Quality, Bitrate: info.Bitrate}); err != nil {
		return fmt.Errorf("update voice channel: %w", err)
	}

	cs.mu.Lock()
	room.info = info
	cs.mu.Unlock()

	bitrateCopy := info.Bitrate
	cs.broadcast(&broadcastReq{
		frame: &Frame{
			Type:    TypeUpdateVoiceChannel,
			Name:    name,
			Quality: info.Quality,
			Bitrate: &bitrateCopy,
			Ts:      nowMillis(),
		},
		scope:   scopeVoice,
		channel: name,
	})
	cs.broadcastVoiceChannelList()
	return nil
}

// DeleteVoiceChannel removes a voice channel, disconnecting any members
// from it first.
func (cs *ChatServer) DeleteVoiceChannel(name string) error {
	cs.mu.Lock()
	if _, ok := cs.voiceChannels[name]; !ok {
		cs.mu.Unlock()
		return ErrChannelNotFound
	}
	cs.mu.Unlock()

	if err := cs.repo.DeleteVoiceChannel(name); err != nil {
		return fmt.Errorf("delete voice channel: %w", err)
	}

	// The room leaves the registry in the same critical section that
	// evicts its members, so a concurrent join cannot slip into a room
	// that is about to disappear.
	cs.mu.Lock()
	var evicted int
	if room, ok := cs.voiceChannels[name]; ok {
		delete(cs.voiceChannels, name)
		for s := range room.members {
			s.setVoiceChannel("")
			evicted++
		}
	}
	cs.mu.Unlock()

	for i := 0; i < evicted; i++ {
		cs.stats.Decr(stats.VoiceParticipants)
	}

	cs.broadcastVoiceChannelList()
	return nil
}

func (cs *ChatServer) voiceChannelList() []types.VoiceChannel {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	channels := make([]types.VoiceChannel, 0, len(cs.voiceChannels))
	for _, room := range cs.voiceChannels {
		channels = append(channels, room.info)
	}
	return channels
}

func (cs *ChatServer) broadcastVoiceChannelList() {
	cs.broadcast(&broadcastReq{
		frame: &Frame{Type: TypeVoiceChannelList, VoiceChannels: cs.voiceChannelList(), Ts: nowMillis()},
		scope: scopeGlobal,
	})
}
