package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"hitme/models"
)

var ErrNoRows = errors.New("no rows found")

// State keys in the user_state table.
const (
	keyProfile      = "profile"
	keyContacts     = "contacts"
	keyOutbound     = "outbound"
	keyInbound      = "inbound"
	keyLiveDuration = "live_duration"
	keyOnboarded    = "onboarded"
	keyRankings     = "rankings"
	keyLive         = "live"
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			login TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			last_online TEXT,
			last_offline TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS user_state (
			login TEXT NOT NULL REFERENCES users(login) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (login, key)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// User methods
func (db *DB) CreateUser(login, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = db.conn.Exec(
		"INSERT INTO users (login, password, last_online, last_offline) VALUES (?, ?, ?, ?)",
		login, string(hashed), now, now,
	)
	return err
}

func (db *DB) AuthenticateUser(login, password string) (bool, error) {
	var hashedPassword string
	err := db.conn.QueryRow("SELECT password FROM users WHERE login = ?", login).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil, nil
}

func (db *DB) UserExists(login string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE login = ?", login).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) UpdateLastOnline(login string, t time.Time) error {
	return db.touch("last_online", login, t)
}

func (db *DB) UpdateLastOffline(login string, t time.Time) error {
	return db.touch("last_offline", login, t)
}

func (db *DB) touch(column, login string, t time.Time) error {
	result, err := db.conn.Exec(
		"UPDATE users SET "+column+" = ? WHERE login = ?",
		t.UTC().Format(time.RFC3339), login,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNoRows
	}
	return err
}

// GetUserStatus returns the user's last connect and disconnect times.
func (db *DB) GetUserStatus(login string) (lastOnline, lastOffline time.Time, err error) {
	var onlineStr, offlineStr string
	err = db.conn.QueryRow(
		"SELECT COALESCE(last_online, ''), COALESCE(last_offline, '') FROM users WHERE login = ?",
		login,
	).Scan(&onlineStr, &offlineStr)
	if err == sql.ErrNoRows {
		err = ErrNoRows
		return
	}
	if err != nil {
		return
	}

	if onlineStr != "" {
		lastOnline, _ = time.Parse(time.RFC3339, onlineStr)
	}
	if offlineStr != "" {
		lastOffline, _ = time.Parse(time.RFC3339, offlineStr)
	}
	return
}

// State methods

// SaveState writes every key of st for login in one transaction.
func (db *DB) SaveState(login string, st models.State) error {
	values := map[string]any{
		keyProfile:      st.Profile,
		keyContacts:     st.Contacts,
		keyOutbound:     st.Outbound,
		keyInbound:      st.Inbound,
		keyLiveDuration: st.LiveDuration,
		keyOnboarded:    st.Onboarded,
		keyRankings:     st.Rankings,
		keyLive:         st.Live,
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO user_state (login, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(login, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for key, v := range values {
		blob, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if _, err := stmt.Exec(login, key, blob, now); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// LoadState restores the saved state of login. Keys that were never written
// come back as zero values.
func (db *DB) LoadState(login string) (models.State, error) {
	rows, err := db.conn.Query("SELECT key, value FROM user_state WHERE login = ?", login)
	if err != nil {
		return models.State{}, err
	}
	defer rows.Close()

	var st models.State
	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return models.State{}, err
		}

		var target any
		switch key {
		case keyProfile:
			target = &st.Profile
		case keyContacts:
			target = &st.Contacts
		case keyOutbound:
			target = &st.Outbound
		case keyInbound:
			target = &st.Inbound
		case keyLiveDuration:
			target = &st.LiveDuration
		case keyOnboarded:
			target = &st.Onboarded
		case keyRankings:
			target = &st.Rankings
		case keyLive:
			target = &st.Live
		default:
			continue
		}
		if err := json.Unmarshal(blob, target); err != nil {
			return models.State{}, fmt.Errorf("decode %s for %s: %w", key, login, err)
		}
	}
	return st, rows.Err()
}
