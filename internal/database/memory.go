package database

import (
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository used by tests and by the
// -dev flag. It mirrors the Postgres semantics: strictly increasing ids,
// newest-first pagination, substring search.
type MemoryRepository struct {
	mu            sync.Mutex
	nextID        int64
	messages      []Message
	channels      map[string]string
	voiceChannels map[string]VoiceChannel
	roles         map[string]RoleAssignment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextID:        1,
		channels:      map[string]string{"general": ""},
		voiceChannels: make(map[string]VoiceChannel),
		roles:         make(map[string]RoleAssignment),
	}
}

func (m *MemoryRepository) Ping() error  { return nil }
func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) CreateMessage(params CreateMessageParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	m.messages = append(m.messages, Message{
		ID:        id,
		Channel:   params.Channel,
		Author:    params.Author,
		Text:      params.Text,
		Image:     params.Image,
		CreatedAt: params.CreatedAt,
		ExpiresAt: params.ExpiresAt,
		Reactions: make(map[string][]string),
	})
	return id, nil
}

func (m *MemoryRepository) GetMessage(id int64) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.ID == id {
			return copyMessage(msg), nil
		}
	}
	return Message{}, sql.ErrNoRows
}

func (m *MemoryRepository) GetMessages(channel string, beforeID int64, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var page []Message
	for i := len(m.messages) - 1; i >= 0 && len(page) < limit; i-- {
		msg := m.messages[i]
		if msg.Channel != channel {
			continue
		}
		if beforeID != 0 && msg.ID >= beforeID {
			continue
		}
		page = append(page, copyMessage(msg))
	}

	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	return page, nil
}

func (m *MemoryRepository) SearchMessages(channel, query string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query = strings.ToLower(query)
	var matches []Message
	for i := len(m.messages) - 1; i >= 0 && len(matches) < limit; i-- {
		msg := m.messages[i]
		if msg.Channel != channel {
			continue
		}
		if strings.Contains(strings.ToLower(msg.Text), query) {
			matches = append(matches, copyMessage(msg))
		}
	}
	return matches, nil
}

func (m *MemoryRepository) UpdateReactions(id int64, reactions map[string][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.messages {
		if m.messages[i].ID == id {
			m.messages[i].Reactions = copyReactions(reactions)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *MemoryRepository) DeleteMessage(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.messages {
		if m.messages[i].ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) ExpiredMessages(now time.Time) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Message
	for _, msg := range m.messages {
		if msg.ExpiresAt != nil && !msg.ExpiresAt.After(now) {
			expired = append(expired, copyMessage(msg))
		}
	}
	return expired, nil
}

func (m *MemoryRepository) CreateChannel(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name] = ch.Topic
	return nil
}

func (m *MemoryRepository) UpdateChannelTopic(name, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[name]; ok {
		m.channels[name] = topic
	}
	return nil
}

func (m *MemoryRepository) DeleteChannel(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
	return nil
}

func (m *MemoryRepository) ListChannels() ([]Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	channels := make([]Channel, 0, len(m.channels))
	for name, topic := range m.channels {
		channels = append(channels, Channel{Name: name, Topic: topic})
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	return channels, nil
}

func (m *MemoryRepository) CreateVoiceChannel(vc VoiceChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voiceChannels[vc.Name] = vc
	return nil
}

func (m *MemoryRepository) UpdateVoiceChannel(vc VoiceChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.voiceChannels[vc.Name]; ok {
		m.voiceChannels[vc.Name] = vc
	}
	return nil
}

func (m *MemoryRepository) DeleteVoiceChannel(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.voiceChannels, name)
	return nil
}

func (m *MemoryRepository) ListVoiceChannels() ([]VoiceChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	channels := make([]VoiceChannel, 0, len(m.voiceChannels))
	for _, vc := range m.voiceChannels {
		channels = append(channels, vc)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	return channels, nil
}

func (m *MemoryRepository) UpsertRole(role RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.User] = role
	return nil
}

func (m *MemoryRepository) ListRoles() ([]RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roles := make([]RoleAssignment, 0, len(m.roles))
	for _, r := range m.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].User < roles[j].User })
	return roles, nil
}

func copyMessage(msg Message) Message {
	msg.Reactions = copyReactions(msg.Reactions)
	return msg
}

func copyReactions(reactions map[string][]string) map[string][]string {
	out := make(map[string][]string, len(reactions))
	for emoji, users := range reactions {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}
