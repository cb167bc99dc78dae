package enrich

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const cacheSchema = `CREATE TABLE IF NOT EXISTS summaries (
	key        TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// Cache remembers summaries so re-running an issue doesn't pay for the same call twice
type Cache struct {
	db *sql.DB
}

// OpenCache opens or creates the cache database at path
func OpenCache(path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	// one writer keeps sqlite from returning SQLITE_BUSY inside a single process
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// CacheKey identifies a summary by everything that went into producing it
func CacheKey(model string, in SummaryInput) string {
	h := sha256.New()
	for _, part := range []string{model, in.Tone, in.Name, in.Website, in.Page.Title, in.Page.Description, in.Page.Text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached summary for key
func (c *Cache) Get(key string) (string, bool, error) {
	var summary string
	err := c.db.QueryRow(`SELECT summary FROM summaries WHERE key = ?`, key).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache: %w", err)
	}
	return summary, true, nil
}

// Put stores summary under key, replacing any older entry
func (c *Cache) Put(key, model, summary string) error {
	if strings.TrimSpace(summary) == "" {
		return nil
	}
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO summaries (key, model, summary, created_at) VALUES (?, ?, ?, ?)`,
		key, model, summary, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Close releases the database
func (c *Cache) Close() error {
	return c.db.Close()
}
