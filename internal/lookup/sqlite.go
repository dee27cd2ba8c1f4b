package lookup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS lookup_cache (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    expires INTEGER NOT NULL
);
`

// SQLiteCache keeps lookup results on disk so they survive between runs.
// Storage errors are logged and treated as cache misses.
type SQLiteCache struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func OpenSQLiteCache(path string, logger *zap.Logger) (*SQLiteCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &SQLiteCache{db: db, logger: logger, now: time.Now}, nil
}

func (c *SQLiteCache) Get(key string) (string, bool) {
	var value string
	var expires int64
	err := c.db.QueryRow(`SELECT value, expires FROM lookup_cache WHERE key = ?`, key).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if c.now().Unix() >= expires {
		return "", false
	}
	return value, true
}

func (c *SQLiteCache) Put(key, value string, ttl time.Duration) {
	_, err := c.db.Exec(`
        INSERT INTO lookup_cache (key, value, expires) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires = excluded.expires
    `, key, value, c.now().Add(ttl).Unix())
	if err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Purge removes expired rows.
func (c *SQLiteCache) Purge() (int64, error) {
	res, err := c.db.Exec(`DELETE FROM lookup_cache WHERE expires <= ?`, c.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
