package types

import (
	"time"
)

// Message is a single chat message as it appears on the wire and in the
// datastore. Reactions map an emoji to the set of display names that added
// it; each set is kept sorted so snapshots compare deterministically.
type Message struct {
	ID        int64               `json:"id"`
	Channel   string              `json:"channel"`
	Author    string              `json:"author"`
	Text      string              `json:"text,omitempty"`
	Image     string              `json:"image,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	ExpiresAt *time.Time          `json:"expiresAt,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"`
}

type Channel struct {
	Name  string `json:"name"`
	Topic string `json:"topic,omitempty"`
}

// VoiceChannel carries the quality preset clients use when negotiating
// encoder parameters. A zero bitrate means "use the profile default".
type VoiceChannel struct {
	Name    string `json:"name"`
	Quality string `json:"quality,omitempty"`
	Bitrate int    `json:"bitrate,omitempty"`
}

// UserInfo is a roster entry: one authenticated identity and its current
// presence state.
type UserInfo struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	VoiceChannel string `json:"voiceChannel,omitempty"`
}

type RoleAssignment struct {
	User  string `json:"user"`
	Role  string `json:"role"`
	Color string `json:"color,omitempty"`
}
