package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/botchat/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	external_uid TEXT NOT NULL UNIQUE,
	email        TEXT NOT NULL DEFAULT '',
	username     TEXT NOT NULL,
	bio          TEXT NOT NULL DEFAULT '',
	profile_pic  TEXT NOT NULL DEFAULT '',
	is_admin     INTEGER NOT NULL DEFAULT 0,
	is_banned    INTEGER NOT NULL DEFAULT 0,
	roles        TEXT NOT NULL DEFAULT '[]',
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bots (
	id          TEXT PRIMARY KEY,
	username    TEXT NOT NULL UNIQUE,
	bot_role    TEXT NOT NULL,
	bot_type    TEXT NOT NULL,
	bio         TEXT NOT NULL DEFAULT '',
	profile_pic TEXT NOT NULL DEFAULT '',
	personality TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	sender_id   TEXT NOT NULL,
	sender_type TEXT NOT NULL,
	content     TEXT NOT NULL,
	room        TEXT NOT NULL,
	is_global   INTEGER NOT NULL DEFAULT 1,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, sender_type);

CREATE TABLE IF NOT EXISTS session_summaries (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	room       TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_user_room ON session_summaries(user_id, room);
`

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; one connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CreateUser implements Store.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.Must(uuid.NewV7()).String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, external_uid, email, username, bio, profile_pic, is_admin, is_banned, roles, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ExternalUID, u.Email, u.Username, u.Bio, u.ProfilePic,
		u.IsAdmin, u.IsBanned, string(roles), u.CreatedAt.UnixNano(),
	)
	if err != nil {
		return wrapWriteErr("insert user", err)
	}
	return nil
}

const userColumns = `id, external_uid, email, username, bio, profile_pic, is_admin, is_banned, roles, created_at`

// GetUser implements Store.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByExternalUID implements Store.
func (s *SQLiteStore) GetUserByExternalUID(ctx context.Context, uid string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE external_uid = ?`, uid)
	return scanUser(row)
}

// ListUsers implements Store.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserBanned implements Store.
func (s *SQLiteStore) SetUserBanned(ctx context.Context, id string, banned bool) (*model.User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_banned = ? WHERE id = ?`, banned, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// UpdateUserProfile implements Store.
func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, id, username, bio string) (*model.User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET username = ?, bio = ? WHERE id = ?`, username, bio, id)
	if err != nil {
		return nil, wrapWriteErr("update user", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// DeleteUser implements Store.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	return s.deleteWithMessages(ctx, "users", id, model.SenderUser)
}

const botColumns = `id, username, bot_role, bot_type, bio, profile_pic, personality, created_at`

// CreateBot implements Store.
func (s *SQLiteStore) CreateBot(ctx context.Context, b *model.Bot) error {
	if b.ID == "" {
		b.ID = uuid.Must(uuid.NewV7()).String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (`+botColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Username, b.BotRole, b.BotType, b.Bio, b.ProfilePic, b.Personality, b.CreatedAt.UnixNano(),
	)
	if err != nil {
		return wrapWriteErr("insert bot", err)
	}
	return nil
}

// GetBot implements Store.
func (s *SQLiteStore) GetBot(ctx context.Context, id string) (*model.Bot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	return scanBot(row)
}

// ListBots implements Store.
func (s *SQLiteStore) ListBots(ctx context.Context) ([]*model.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close()

	var bots []*model.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// UpdateBot implements Store.
func (s *SQLiteStore) UpdateBot(ctx context.Context, b *model.Bot) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bots SET username = ?, bot_role = ?, bot_type = ?, bio = ?, profile_pic = ?, personality = ?
		WHERE id = ?`,
		b.Username, b.BotRole, b.BotType, b.Bio, b.ProfilePic, b.Personality, b.ID,
	)
	if err != nil {
		return wrapWriteErr("update bot", err)
	}
	return requireAffected(res)
}

// DeleteBot implements Store.
func (s *SQLiteStore) DeleteBot(ctx context.Context, id string) error {
	return s.deleteWithMessages(ctx, "bots", id, model.SenderBot)
}

// CountBots implements Store.
func (s *SQLiteStore) CountBots(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bots: %w", err)
	}
	return n, nil
}

const messageColumns = `id, sender_id, sender_type, content, room, is_global, created_at`

// CreateMessage implements Store.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, string(m.SenderType), m.Content, m.Room, m.IsGlobal, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return wrapWriteErr("insert message", err)
	}
	return nil
}

// GetMessage implements Store.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// RecentMessages implements Store.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessage implements Store.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return requireAffected(res)
}

// SaveSummary implements Store.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sum *model.SessionSummary) error {
	if sum.ID == "" {
		sum.ID = uuid.Must(uuid.NewV7()).String()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_summaries (id, user_id, room, summary, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sum.ID, sum.UserID, sum.Room, sum.Summary, sum.CreatedAt.UnixNano(),
	)
	if err != nil {
		return wrapWriteErr("insert summary", err)
	}
	return nil
}

// ListSummaries implements Store.
func (s *SQLiteStore) ListSummaries(ctx context.Context, userID, room string) ([]*model.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, room, summary, created_at FROM session_summaries
		WHERE user_id = ? AND room = ?
		ORDER BY created_at`, userID, room)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []*model.SessionSummary
	for rows.Next() {
		var sum model.SessionSummary
		var created int64
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.Room, &sum.Summary, &created); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created)
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) deleteWithMessages(ctx context.Context, table, id string, senderType model.SenderType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE sender_id = ? AND sender_type = ?`, id, string(senderType)); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	var roles string
	var created int64
	err := row.Scan(&u.ID, &u.ExternalUID, &u.Email, &u.Username, &u.Bio, &u.ProfilePic,
		&u.IsAdmin, &u.IsBanned, &roles, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}
	u.CreatedAt = time.Unix(0, created)
	return &u, nil
}

func scanBot(row scanner) (*model.Bot, error) {
	var b model.Bot
	var created int64
	err := row.Scan(&b.ID, &b.Username, &b.BotRole, &b.BotType, &b.Bio, &b.ProfilePic, &b.Personality, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan bot: %w", err)
	}
	b.CreatedAt = time.Unix(0, created)
	return &b, nil
}

func scanMessage(row scanner) (*model.Message, error) {
	var m model.Message
	var senderType string
	var created int64
	err := row.Scan(&m.ID, &m.SenderID, &senderType, &m.Content, &m.Room, &m.IsGlobal, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.SenderType = model.SenderType(senderType)
	m.CreatedAt = time.Unix(0, created)
	return &m, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapWriteErr(op string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("failed to %s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
