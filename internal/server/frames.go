package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/pcarver/beacon/internal/types"
)

// Frame types routed by the dispatcher. Client-originated and
// server-originated frames share one envelope with a type discriminator.
const (
	TypePresence           = "presence"
	TypeChat               = "chat"
	TypeHistory            = "history"
	TypeLoadHistory        = "load-history"
	TypeSearch             = "search"
	TypeSearchResults      = "search-results"
	TypeReact              = "react"
	TypeReactionUpdate     = "reaction-update"
	TypeMessageRemoved     = "message-removed"
	TypeJoin               = "join"
	TypeSwitchChannel      = "switch-channel"
	TypeCreateChannel      = "create-channel"
	TypeDeleteChannel      = "delete-channel"
	TypeSetTopic           = "set-topic"
	TypeChannelList        = "channel-list"
	TypeCreateVoiceChannel = "create-voice-channel"
	TypeUpdateVoiceChannel = "update-voice-channel"
	TypeDeleteVoiceChannel = "delete-voice-channel"
	TypeVoiceChannelList   = "voice-channel-list"
	TypeVoiceJoin          = "voice-join"
	TypeVoiceLeave         = "voice-leave"
	TypeVoiceOffer         = "voice-offer"
	TypeVoiceAnswer        = "voice-answer"
	TypeVoiceCandidate     = "voice-candidate"
	TypeStatusUpdate       = "status-update"
	TypeStatusSnapshot     = "status-snapshot"
	TypeRoleUpdate         = "role-update"
	TypeRoleSnapshot       = "role-snapshot"
	TypeAuthOK             = "auth-ok"
	TypePing               = "ping"
	TypePong               = "pong"
	TypeError              = "error"
)

// Wire-level error codes carried on error frames.
const (
	CodeAuthRejected     = "auth-rejected"
	CodeRateLimited      = "rate-limited"
	CodeNotAuthenticated = "not-authenticated"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not-found"
	CodeChannelExists    = "channel-exists"
	CodeInvalid          = "invalid"
	CodeInternal         = "internal"
)

// Validation limits for client-supplied values.
const (
	MaxNameLength  = 50
	MaxChatLength  = 2000
	MaxEmojiLength = 32
	MaxQueryLength = 200
)

// Frame is the single JSON envelope exchanged over the connection. Fields
// are populated per frame type; everything else stays omitted.
type Frame struct {
	Type string `json:"type"`

	// presence
	User      string `json:"user,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Signature string `json:"signature,omitempty"`
	Password  string `json:"password,omitempty"`
	Admin     bool   `json:"admin,omitempty"`

	// chat / reactions / history
	ID        int64  `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Text      string `json:"text,omitempty"`
	Image     string `json:"image,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"` // unix seconds
	MessageID int64  `json:"messageId,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	Action    string `json:"action,omitempty"` // react: "add" | "remove"
	Before    int64  `json:"before,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Query     string `json:"query,omitempty"`

	// channel / voice-channel administration
	Name    string `json:"name,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Quality string `json:"quality,omitempty"`
	Bitrate *int   `json:"bitrate,omitempty"`

	// voice signaling
	Target    string `json:"target,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`

	// presence state / roles
	Status string `json:"status,omitempty"`
	Role   string `json:"role,omitempty"`
	Color  string `json:"color,omitempty"`

	// server-assigned
	Ts int64 `json:"ts,omitempty"` // unix milliseconds

	Messages      []types.Message        `json:"messages,omitempty"`
	Channels      []types.Channel        `json:"channels,omitempty"`
	VoiceChannels []types.VoiceChannel   `json:"voiceChannels,omitempty"`
	Users         []types.UserInfo       `json:"users,omitempty"`
	Authors       []string               `json:"authors,omitempty"`
	Roles         []types.RoleAssignment `json:"roles,omitempty"`

	// error
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func errFrame(code, reason string) *Frame {
	return &Frame{
		Type:   TypeError,
		Code:   code,
		Reason: reason,
		Ts:     nowMillis(),
	}
}

func errNotAuthenticated() *Frame {
	return errFrame(CodeNotAuthenticated, "authenticate with a presence frame first")
}

func errNotFound(what string) *Frame {
	return errFrame(CodeNotFound, what+" not found")
}

func errInternal() *Frame {
	return errFrame(CodeInternal, "internal server error")
}

func errRateLimited(kind string) *Frame {
	return errFrame(CodeRateLimited, kind+" rate limit exceeded")
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// validateName trims s and rejects empty or oversized names.
func validateName(s string) (string, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "", fmt.Errorf("name must not be empty")
	case len(s) > MaxNameLength:
		return "", fmt.Errorf("name must not exceed %d bytes", MaxNameLength)
	}
	return s, nil
}

// Statuses a session may advertise.
var validStatuses = map[string]struct{}{
	"online":  {},
	"away":    {},
	"busy":    {},
	"offline": {},
}
