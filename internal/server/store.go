package server

import (
	"database/sql"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/pcarver/beacon/internal/database"
	"github.com/pcarver/beacon/internal/types"
)

const (
	// HistoryPageLimit bounds history and search pages.
	HistoryPageLimit = 50

	// Ephemeral lifetimes are clamped to this range.
	MinMessageLifetime = 5 * time.Second
	MaxMessageLifetime = 24 * time.Hour
)

var ErrMessageNotFound = errors.New("message not found")

// MessageStore wraps the repository with the ordering discipline the
// dispatcher relies on: reaction toggles and deletions for a given message
// id are serialized, so concurrent updates never lose writes.
type MessageStore struct {
	repo database.Repository

	// mu serializes read-modify-write cycles on reactions and deletes.
	mu sync.Mutex
}

func NewMessageStore(repo database.Repository) *MessageStore {
	return &MessageStore{repo: repo}
}

// Append persists a message and returns its server-assigned id. Ids are
// strictly increasing in append order.
func (ms *MessageStore) Append(channel, author, text, image string, expiresAt *time.Time) (int64, time.Time, error) {
	createdAt := time.Now().UTC().Round(time.Millisecond)

	id, err := ms.repo.CreateMessage(database.CreateMessageParams{
		Channel:   channel,
		Author:    author,
		Text:      text,
		Image:     image,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return 0, time.Time{}, err
	}

	return id, createdAt, nil
}

// History returns a page of at most limit messages older than beforeID,
// ordered oldest to newest within the page. beforeID zero starts from the
// newest message.
func (ms *MessageStore) History(channel string, beforeID int64, limit int) ([]types.Message, error) {
	if limit <= 0 || limit > HistoryPageLimit {
		limit = HistoryPageLimit
	}

	msgs, err := ms.repo.GetMessages(channel, beforeID, limit)
	if err != nil {
		return nil, err
	}
	return toWireMessages(msgs), nil
}

// Search returns up to limit messages whose text contains query, most
// recent first.
func (ms *MessageStore) Search(channel, query string, limit int) ([]types.Message, error) {
	if limit <= 0 || limit > HistoryPageLimit {
		limit = HistoryPageLimit
	}

	msgs, err := ms.repo.SearchMessages(channel, query, limit)
	if err != nil {
		return nil, err
	}
	return toWireMessages(msgs), nil
}

// React toggles actor's membership in the emoji's author set. Adding twice
// is idempotent; removing an absent reaction is a no-op. Returns the
// message's channel and the updated author set for the emoji.
func (ms *MessageStore) React(id int64, emoji, actor string, add bool) (string, []string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, err := ms.repo.GetMessage(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrMessageNotFound
		}
		return "", nil, err
	}

	reactions := msg.Reactions
	if reactions == nil {
		reactions = make(map[string][]string)
	}

	authors := reactions[emoji]
	idx := slices.Index(authors, actor)
	switch {
	case add && idx < 0:
		authors = append(authors, actor)
		slices.Sort(authors)
	case !add && idx >= 0:
		authors = slices.Delete(authors, idx, idx+1)
	default:
		// Already in the requested state.
		return msg.Channel, authors, nil
	}

	if len(authors) == 0 {
		delete(reactions, emoji)
	} else {
		reactions[emoji] = authors
	}

	if err := ms.repo.UpdateReactions(id, reactions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrMessageNotFound
		}
		return "", nil, err
	}

	return msg.Channel, authors, nil
}

// Delete removes a message. It reports false when the message was already
// gone, which makes the expiry timer racing a manual delete a no-op.
func (ms *MessageStore) Delete(id int64) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.repo.DeleteMessage(id)
}

// Expired lists persisted messages whose expiry has passed, used for the
// retry sweep and the startup purge.
func (ms *MessageStore) Expired(now time.Time) ([]types.Message, error) {
	msgs, err := ms.repo.ExpiredMessages(now)
	if err != nil {
		return nil, err
	}
	return toWireMessages(msgs), nil
}

// ClampLifetime bounds a requested expiry instant to the allowed lifetime
// range relative to now.
func ClampLifetime(now, requested time.Time) time.Time {
	d := requested.Sub(now)
	if d < MinMessageLifetime {
		d = MinMessageLifetime
	}
	if d > MaxMessageLifetime {
		d = MaxMessageLifetime
	}
	return now.Add(d)
}

func toWireMessages(msgs []database.Message) []types.Message {
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = toWireMessage(m)
	}
	return out
}

func toWireMessage(m database.Message) types.Message {
	return types.Message{
		ID:        m.ID,
		Channel:   m.Channel,
		Author:    m.Author,
		Text:      m.Text,
		Image:     m.Image,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
		Reactions: m.Reactions,
	}
}
