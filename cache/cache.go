// Package cache stores compiled units in SQLite, keyed by a hash of the
// source text and compile options.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/rill/compiler"
	"github.com/chazu/rill/vm"
)

var log = commonlog.GetLogger("rill.cache")

// ErrMiss indicates the key has no stored unit.
var ErrMiss = errors.New("cache miss")

// Cache is a content-addressed store of serialized units.
type Cache struct {
	db     *sql.DB
	path   string
	hits   atomic.Int64
	misses atomic.Int64
}

// Open opens (creating if needed) the cache database at path. The path
// ":memory:" gives a private in-memory cache.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS units (
		key     TEXT PRIMARY KEY,
		module  TEXT NOT NULL,
		data    BLOB NOT NULL,
		created INTEGER NOT NULL,
		used    INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened unit cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get loads the unit stored under k. It returns ErrMiss when there is
// none, and a *vm.FormatError when the stored bytes no longer decode.
func (c *Cache) Get(k Key) (*vm.Unit, error) {
	var data []byte
	err := c.db.QueryRow("SELECT data FROM units WHERE key = ?", k.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("querying unit: %w", err)
	}
	u, err := vm.Deserialize(data)
	if err != nil {
		return nil, err
	}
	if _, err := c.db.Exec("UPDATE units SET used = ? WHERE key = ?", time.Now().Unix(), k.String()); err != nil {
		return nil, fmt.Errorf("touching unit: %w", err)
	}
	return u, nil
}

// Put stores u under k, replacing any previous entry.
func (c *Cache) Put(k Key, u *vm.Unit) error {
	data, err := vm.Serialize(u)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO units (key, module, data, created, used) VALUES (?, ?, ?, ?, ?)",
		k.String(), u.Name, data, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving unit: %w", err)
	}
	return nil
}

// Delete removes the entry for k.
func (c *Cache) Delete(k Key) error {
	if _, err := c.db.Exec("DELETE FROM units WHERE key = ?", k.String()); err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}
	return nil
}

// Prune removes entries not used since the cutoff and reports how many
// were removed.
func (c *Cache) Prune(unusedSince time.Time) (int, error) {
	res, err := c.db.Exec("DELETE FROM units WHERE used < ?", unusedSince.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning units: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Len returns the number of stored units.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM units").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting units: %w", err)
	}
	return n, nil
}

// Stats returns the hit and miss counts of Compile.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Compile returns the cached unit for r, compiling and storing it on a
// miss. Units with errors are never stored. Entries that fail to decode
// are discarded and recompiled. A non-nil error reports a storage
// failure; diagnostics describe the source.
func (c *Cache) Compile(r Request) (*vm.Unit, compiler.Diagnostics, error) {
	k := r.Key()
	u, err := c.Get(k)
	switch {
	case err == nil:
		c.hits.Add(1)
		log.Debugf("cache hit for %s (%s)", r.Module, k)
		return u, nil, nil
	case errors.Is(err, ErrMiss):
	default:
		var fe *vm.FormatError
		if !errors.As(err, &fe) {
			return nil, nil, err
		}
		log.Warningf("discarding unreadable cache entry %s: %v", k, err)
		if err := c.Delete(k); err != nil {
			return nil, nil, err
		}
	}

	c.misses.Add(1)
	u, diags := compiler.Compile(r.Source, r.Module, r.Options()...)
	if u == nil {
		return nil, diags, nil
	}
	if err := c.Put(k, u); err != nil {
		return u, diags, err
	}
	return u, diags, nil
}
