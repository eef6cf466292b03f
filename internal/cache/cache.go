// Package cache is the artifact store shared by every pipeline stage: a
// sqlite index plus an audio directory under one root. Candidate lists and
// stage results are stored as serialized payloads in the index; audio blobs
// live as files with an index row pointing at them.
//
// Keys are derived before lookup: query keys are case and whitespace
// insensitive, track-identity keys are exact. Writes are idempotent and
// last-writer-wins; rewriting a key with different content is logged as a
// cache inconsistency, never an error.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"songlisten/internal/logger"
)

// Kind names an artifact family. Derived keys are kind-qualified, so one
// key never maps to two kinds.
type Kind string

const (
	KindCandidates Kind = "candidates"
	KindAudio      Kind = "audio"
	KindResult     Kind = "result"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	kind       TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	payload    BLOB,
	path       TEXT    NOT NULL DEFAULT '',
	format     TEXT    NOT NULL DEFAULT '',
	digest     TEXT    NOT NULL,
	size_bytes INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (kind, key)
);`

// Store is the shared artifact cache. Safe for concurrent use; concurrent
// writes for the same key serialize through sqlite.
type Store struct {
	db   *sql.DB
	root string
	log  *logger.Logger
}

// Open creates or opens the store rooted at dir.
func Open(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "audio"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directories: %w", err)
	}

	dsn := filepath.Join(dir, "index.sqlite") + "?_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cache index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Store{db: db, root: dir, log: log}, nil
}

// Close closes the index database.
func (s *Store) Close() error {
	return s.db.Close()
}

// QueryKey derives the cache key for a free-text query.
func QueryKey(raw string) string {
	collapsed := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(raw))), " ")
	return hashKey(collapsed)
}

// IdentityKey derives the cache key for an exact track identity
// (e.g. "ytdlp:dQw4w9WgXcQ"). No case folding: external ids are exact.
func IdentityKey(identity string) string {
	return hashKey(identity)
}

// Result-kind key builders. The qualifier keeps feature, descriptor, lyric
// and insight results for the same track from colliding.
func FeatureKey(identity string) string    { return hashKey("features:" + identity) }
func DescriptorKey(identity string) string { return hashKey("descriptor:" + identity) }
func LyricsKey(identity string) string     { return hashKey("lyrics:" + identity) }
func InsightKey(text string) string        { return hashKey("insight:" + text) }

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Get returns the stored payload for (kind, key).
func (s *Store) Get(kind Kind, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRow(
		`SELECT payload FROM artifacts WHERE kind = ? AND key = ?`, string(kind), key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s/%s: %w", kind, key, err)
	}
	return payload, true, nil
}

// GetFresh returns the payload only when the entry is younger than ttl.
// A non-positive ttl never matches.
func (s *Store) GetFresh(kind Kind, key string, ttl time.Duration) ([]byte, bool, error) {
	if ttl <= 0 {
		return nil, false, nil
	}
	var payload []byte
	var created int64
	err := s.db.QueryRow(
		`SELECT payload, created_at FROM artifacts WHERE kind = ? AND key = ?`, string(kind), key,
	).Scan(&payload, &created)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s/%s: %w", kind, key, err)
	}
	if time.Since(time.Unix(created, 0)) >= ttl {
		return nil, false, nil
	}
	return payload, true, nil
}

// Put stores a payload under (kind, key). Re-writing identical content is a
// no-op; different content replaces the entry and logs an inconsistency.
func (s *Store) Put(kind Kind, key string, payload []byte) error {
	digest := hashBytes(payload)

	var existing string
	err := s.db.QueryRow(
		`SELECT digest FROM artifacts WHERE kind = ? AND key = ?`, string(kind), key,
	).Scan(&existing)
	switch {
	case err == nil && existing == digest:
		return nil
	case err == nil:
		s.log.Warn("cache inconsistency: %s/%s rewritten with different content", kind, key)
	case err != sql.ErrNoRows:
		return fmt.Errorf("cache put %s/%s: %w", kind, key, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO artifacts (kind, key, payload, digest, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kind, key) DO UPDATE SET
		   payload = excluded.payload,
		   digest = excluded.digest,
		   size_bytes = excluded.size_bytes,
		   created_at = excluded.created_at`,
		string(kind), key, payload, digest, int64(len(payload)), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache put %s/%s: %w", kind, key, err)
	}
	return nil
}

// Has reports whether (kind, key) is present.
func (s *Store) Has(kind Kind, key string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM artifacts WHERE kind = ? AND key = ?`, string(kind), key,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache has %s/%s: %w", kind, key, err)
	}
	return true, nil
}

// GetJSON decodes the payload for (kind, key) into v.
func (s *Store) GetJSON(kind Kind, key string, v any) (bool, error) {
	payload, ok, err := s.Get(kind, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("cache decode %s/%s: %w", kind, key, err)
	}
	return true, nil
}

// GetJSONFresh is GetJSON with a ttl bound, used for candidate lists.
func (s *Store) GetJSONFresh(kind Kind, key string, ttl time.Duration, v any) (bool, error) {
	payload, ok, err := s.GetFresh(kind, key, ttl)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("cache decode %s/%s: %w", kind, key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under (kind, key).
func (s *Store) PutJSON(kind Kind, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s/%s: %w", kind, key, err)
	}
	return s.Put(kind, key, payload)
}

// Info describes a cache entry without deserializing its payload.
type Info struct {
	Present   bool          `json:"present"`
	Kind      Kind          `json:"kind"`
	Key       string        `json:"key"`
	SizeBytes int64         `json:"size_bytes,omitempty"`
	Age       time.Duration `json:"age,omitempty"`
	Path      string        `json:"path,omitempty"` // audio entries only
	Format    string        `json:"format,omitempty"`
}

// Status reports presence, size and age for (kind, key) without reading
// the payload.
func (s *Store) Status(kind Kind, key string) (Info, error) {
	info := Info{Kind: kind, Key: key}
	var created int64
	err := s.db.QueryRow(
		`SELECT path, format, size_bytes, created_at FROM artifacts WHERE kind = ? AND key = ?`,
		string(kind), key,
	).Scan(&info.Path, &info.Format, &info.SizeBytes, &created)
	if err == sql.ErrNoRows {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("cache status %s/%s: %w", kind, key, err)
	}
	info.Present = true
	info.Age = time.Since(time.Unix(created, 0))
	return info, nil
}

// AudioDest returns the path stem (no extension) where a fetcher should
// place audio for the given identity key.
func (s *Store) AudioDest(key string) string {
	return filepath.Join(s.root, "audio", key)
}

// PutAudio indexes an audio file under key. When path is already the
// store's own destination the file is indexed in place; otherwise it is
// copied in via a temp file and rename so readers never see a partial blob.
func (s *Store) PutAudio(key, path, format string) (string, error) {
	dest := s.AudioDest(key) + "." + format
	if path != dest {
		if err := copyFile(path, dest); err != nil {
			return "", fmt.Errorf("cache audio copy: %w", err)
		}
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return "", fmt.Errorf("cache audio stat: %w", err)
	}

	digest, err := hashFile(dest)
	if err != nil {
		return "", fmt.Errorf("cache audio digest: %w", err)
	}

	var existing string
	err = s.db.QueryRow(
		`SELECT digest FROM artifacts WHERE kind = ? AND key = ?`, string(KindAudio), key,
	).Scan(&existing)
	if err == nil && existing != digest {
		s.log.Warn("cache inconsistency: audio/%s rewritten with different content", key)
	}

	_, err = s.db.Exec(
		`INSERT INTO artifacts (kind, key, path, format, digest, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kind, key) DO UPDATE SET
		   path = excluded.path,
		   format = excluded.format,
		   digest = excluded.digest,
		   size_bytes = excluded.size_bytes,
		   created_at = excluded.created_at`,
		string(KindAudio), key, dest, format, digest, fi.Size(), time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("cache audio put %s: %w", key, err)
	}
	return dest, nil
}

// GetAudio returns the stored audio path and format for key. An index row
// whose file has disappeared counts as absent.
func (s *Store) GetAudio(key string) (string, string, bool, error) {
	var path, format string
	err := s.db.QueryRow(
		`SELECT path, format FROM artifacts WHERE kind = ? AND key = ?`, string(KindAudio), key,
	).Scan(&path, &format)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("cache audio get %s: %w", key, err)
	}
	if _, err := os.Stat(path); err != nil {
		s.log.Warn("cache audio entry %s points at missing file %s", key, path)
		return "", "", false, nil
	}
	return path, format, true, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".cache-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
