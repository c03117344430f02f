package database

import "time"

// Repository is the persistence boundary for the coordination server.
// Implementations must assign strictly increasing message ids in append
// order.
type Repository interface {
	Ping() error
	Close() error

	CreateMessage(params CreateMessageParams) (int64, error)
	GetMessage(id int64) (Message, error)
	GetMessages(channel string, beforeID int64, limit int) ([]Message, error)
	SearchMessages(channel, query string, limit int) ([]Message, error)
	UpdateReactions(id int64, reactions map[string][]string) error
	// DeleteMessage reports whether a row was actually removed, so a
	// timer firing after a manual delete stays a no-op.
	DeleteMessage(id int64) (bool, error)
	ExpiredMessages(now time.Time) ([]Message, error)

	CreateChannel(ch Channel) error
	UpdateChannelTopic(name, topic string) error
	DeleteChannel(name string) error
	ListChannels() ([]Channel, error)

	CreateVoiceChannel(vc VoiceChannel) error
	UpdateVoiceChannel(vc VoiceChannel) error
	DeleteVoiceChannel(name string) error
	ListVoiceChannels() ([]VoiceChannel, error)

	UpsertRole(role RoleAssignment) error
	ListRoles() ([]RoleAssignment, error)
}
