// Package store persists provisioned tunnel profiles in SQLite. Profiles
// hold private keys, so the database file is created owner-only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chiquitav2/erebrus-connector/internal/connector/wireguard"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

const table = "profiles"

//go:embed schema.sql
var ddl string

// Profile is a saved tunnel configuration.
type Profile struct {
	ID         string
	ClientName string
	NodeID     string
	NodeName   string
	Region     string
	Endpoint   string
	Address    string
	ConfigText string
	CreatedAt  time.Time
}

// TunnelConfig parses the saved configuration text.
func (p *Profile) TunnelConfig() (wireguard.TunnelConfig, error) {
	return wireguard.ParseConfig(p.ConfigText)
}

// Store saves and loads profiles.
type Store interface {
	Save(ctx context.Context, p *Profile) (*Profile, error)
	Get(ctx context.Context, id string) (*Profile, error)
	List(ctx context.Context) ([]*Profile, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// Config holds database configuration
type Config struct {
	Path         string
	MaxOpenConns int
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	return &Config{
		Path:         filepath.Join(".erebrus", "profiles.db"),
		MaxOpenConns: 1,
	}
}

// SQLStore is a Store backed by database/sql and go-sqlite3.
type SQLStore struct {
	db     *sql.DB
	logger *logger.Logger
}

var _ Store = (*SQLStore)(nil)

// NewStore opens the database at config.Path and sets up the schema.
func NewStore(config *Config, log *logger.Logger) (*SQLStore, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 1
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0700); err != nil {
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to create database directory", false, err)
	}
	f, err := os.OpenFile(config.Path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to create database file", false, err)
	}
	f.Close()

	db, err := sql.Open("sqlite3", config.Path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to open database", false, err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to ping database", true, err)
	}

	s := &SQLStore{db: db, logger: log.WithComponent("store")}
	if err := s.setupSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) setupSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to begin schema transaction", false, err)
	}
	if _, err := tx.Exec(ddl); err != nil {
		_ = tx.Rollback()
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to setup database schema", false, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to commit schema transaction", false, err)
	}
	return nil
}

// Save inserts p, assigning an ID and creation time when missing.
func (s *SQLStore) Save(ctx context.Context, p *Profile) (*Profile, error) {
	if p == nil || p.NodeID == "" || p.ConfigText == "" {
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeValidation, "profile requires a node and config text", false, nil)
	}

	saved := *p
	if saved.ID == "" {
		saved.ID = uuid.New().String()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, client_name, node_id, node_name, region, endpoint, address, config_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		saved.ID, saved.ClientName, saved.NodeID, saved.NodeName, saved.Region,
		saved.Endpoint, saved.Address, saved.ConfigText, saved.CreatedAt,
	)
	s.logger.DBQuery(ctx, "insert", table, time.Since(start), "profile_id", saved.ID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to save profile", false, err)
	}
	return &saved, nil
}

// Get returns the profile with id. A unique ID prefix is also accepted.
func (s *SQLStore) Get(ctx context.Context, id string) (*Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, notFound(id)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, selectProfiles+`
		WHERE id = ? OR id LIKE ? ESCAPE '\'
		ORDER BY id = ? DESC
		LIMIT 2`, id, escapeLike(id)+"%", id)
	s.logger.DBQuery(ctx, "select", table, time.Since(start), "profile_id", id)
	if err != nil {
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to query profile", false, err)
	}
	profiles, err := scanProfiles(rows)
	if err != nil {
		return nil, err
	}

	switch {
	case len(profiles) == 0:
		return nil, notFound(id)
	case profiles[0].ID == id || len(profiles) == 1:
		return profiles[0], nil
	default:
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeValidation,
			fmt.Sprintf("profile id %q is ambiguous", id), false, nil)
	}
}

// List returns all profiles, newest first.
func (s *SQLStore) List(ctx context.Context) ([]*Profile, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, selectProfiles+` ORDER BY created_at DESC, id`)
	s.logger.DBQuery(ctx, "select", table, time.Since(start))
	if err != nil {
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to list profiles", false, err)
	}
	return scanProfiles(rows)
}

// Delete removes the profile with id.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	s.logger.DBQuery(ctx, "delete", table, time.Since(start), "profile_id", id)
	if err != nil {
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to delete profile", false, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const selectProfiles = `
	SELECT id, client_name, node_id, node_name, region, endpoint, address, config_text, created_at
	FROM profiles`

func scanProfiles(rows *sql.Rows) ([]*Profile, error) {
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.ClientName, &p.NodeID, &p.NodeName, &p.Region,
			&p.Endpoint, &p.Address, &p.ConfigText, &p.CreatedAt); err != nil {
			return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to scan profile", false, err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to read profiles", false, err)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func notFound(id string) error {
	return apperrors.NewDatabaseError(apperrors.ErrCodeNotFound, fmt.Sprintf("profile %q not found", id), false, nil)
}

// IsNotFound reports whether err is a missing-profile error.
func IsNotFound(err error) bool {
	return apperrors.IsErrorCode(err, apperrors.ErrCodeNotFound)
}
