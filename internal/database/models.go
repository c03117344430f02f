package database

import "time"

type Message struct {
	ID        int64
	Channel   string
	Author    string
	Text      string
	Image     string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Reactions map[string][]string
}

type Channel struct {
	Name  string
	Topic string
}

type VoiceChannel struct {
	Name    string
	Quality string
	Bitrate int
}

type RoleAssignment struct {
	User  string
	Role  string
	Color string
}

type CreateMessageParams struct {
	Channel   string
	Author    string
	Text      string
	Image     string
	CreatedAt time.Time
	ExpiresAt *time.Time
}
