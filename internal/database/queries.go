package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func (db *PgRepository) CreateMessage(params CreateMessageParams) (int64, error) {
	row := db.conn.QueryRow(
		"INSERT INTO messages (channel, author, body, image, created_at, expires_at, reactions) "+
			"VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb) RETURNING id",
		params.Channel,
		params.Author,
		params.Text,
		params.Image,
		params.CreatedAt,
		params.ExpiresAt,
	)

	var id int64
	err := row.Scan(&id)
	return id, err
}

func (db *PgRepository) GetMessage(id int64) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT id, channel, author, body, image, created_at, expires_at, reactions "+
			"FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	return scanMessage(row)
}

// GetMessages returns up to limit messages older than beforeID, in
// ascending id order. A beforeID of zero means "from the newest".
func (db *PgRepository) GetMessages(channel string, beforeID int64, limit int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, channel, author, body, image, created_at, expires_at, reactions "+
			"FROM (SELECT * FROM messages WHERE channel = $1 AND ($2 = 0 OR id < $2) "+
			"ORDER BY id DESC LIMIT $3) page ORDER BY id ASC",
		channel,
		beforeID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (db *PgRepository) SearchMessages(channel, query string, limit int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, channel, author, body, image, created_at, expires_at, reactions "+
			"FROM messages WHERE channel = $1 AND body ILIKE '%' || $2 || '%' "+
			"ORDER BY id DESC LIMIT $3",
		channel,
		query,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (db *PgRepository) UpdateReactions(id int64, reactions map[string][]string) error {
	raw, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("marshal reactions: %w", err)
	}

	res, err := db.conn.Exec(
		"UPDATE messages SET reactions = $2 WHERE id = $1",
		id,
		raw,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *PgRepository) DeleteMessage(id int64) (bool, error) {
	res, err := db.conn.Exec("DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *PgRepository) ExpiredMessages(now time.Time) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, channel, author, body, image, created_at, expires_at, reactions "+
			"FROM messages WHERE expires_at IS NOT NULL AND expires_at <= $1 ORDER BY id ASC",
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (db *PgRepository) CreateChannel(ch Channel) error {
	_, err := db.conn.Exec(
		"INSERT INTO channels (name, topic) VALUES ($1, $2)",
		ch.Name,
		ch.Topic,
	)
	return err
}

func (db *PgRepository) UpdateChannelTopic(name, topic string) error {
	_, err := db.conn.Exec(
		"UPDATE channels SET topic = $2 WHERE name = $1",
		name,
		topic,
	)
	return err
}

func (db *PgRepository) DeleteChannel(name string) error {
	_, err := db.conn.Exec("DELETE FROM channels WHERE name = $1", name)
	return err
}

func (db *PgRepository) ListChannels() ([]Channel, error) {
	rows, err := db.conn.Query("SELECT name, topic FROM channels ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.Name, &ch.Topic); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	return channels, rows.Err()
}

func (db *PgRepository) CreateVoiceChannel(vc VoiceChannel) error {
	_, err := db.conn.Exec(
		"INSERT INTO voice_channels (name, quality, bitrate) VALUES ($1, $2, $3)",
		vc.Name,
		vc.Quality,
		vc.Bitrate,
	)
	return err
}

func (db *PgRepository) UpdateVoiceChannel(vc VoiceChannel) error {
	_, err := db.conn.Exec(
		"UPDATE voice_channels SET quality = $2, bitrate = $3 WHERE name = $1",
		vc.Name,
		vc.Quality,
		vc.Bitrate,
	)
	return err
}

func (db *PgRepository) DeleteVoiceChannel(name string) error {
	_, err := db.conn.Exec("DELETE FROM voice_channels WHERE name = $1", name)
	return err
}

func (db *PgRepository) ListVoiceChannels() ([]VoiceChannel, error) {
	rows, err := db.conn.Query("SELECT name, quality, bitrate FROM voice_channels ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []VoiceChannel
	for rows.Next() {
		var vc VoiceChannel
		if err := rows.Scan(&vc.Name, &vc.Quality, &vc.Bitrate); err != nil {
			return nil, err
		}
		channels = append(channels, vc)
	}

	return channels, rows.Err()
}

func (db *PgRepository) UpsertRole(role RoleAssignment) error {
	_, err := db.conn.Exec(
		"INSERT INTO roles (identity, role, color) VALUES ($1, $2, $3) "+
			"ON CONFLICT (identity) DO UPDATE SET role = EXCLUDED.role, color = EXCLUDED.color",
		role.User,
		role.Role,
		role.Color,
	)
	return err
}

func (db *PgRepository) ListRoles() ([]RoleAssignment, error) {
	rows, err := db.conn.Query("SELECT identity, role, color FROM roles ORDER BY identity ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []RoleAssignment
	for rows.Next() {
		var r RoleAssignment
		if err := rows.Scan(&r.User, &r.Role, &r.Color); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}

	return roles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg       Message
		expiresAt sql.NullTime
		reactions []byte
	)

	err := row.Scan(
		&msg.ID,
		&msg.Channel,
		&msg.Author,
		&msg.Text,
		&msg.Image,
		&msg.CreatedAt,
		&expiresAt,
		&reactions,
	)
	if err != nil {
		return Message{}, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		msg.ExpiresAt = &t
	}

	msg.Reactions = make(map[string][]string)
	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
			return Message{}, fmt.Errorf("unmarshal reactions: %w", err)
		}
	}

	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
