package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store owns the persisted gateway configuration. All mutations go through
// a single writer lock and are flushed to disk as a whole-file rewrite;
// readers work on deep-copied snapshots and never observe a partial change.
// Persistence failures are logged and the in-memory document stays
// authoritative.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	doc       *Document
	lastWrite string // hash of the last content this store wrote itself
}

// NewStore creates a Store for the given config path. The store starts with
// the default document; call Load to read the file from disk.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger,
		doc:    DefaultDocument(),
	}
}

// Path returns the filesystem path this store persists to.
func (s *Store) Path() string { return s.path }

// Load reads the config file. A missing file is replaced with the default
// document (written to disk); unreadable or malformed content falls back to
// the in-memory defaults. Missing routes/templates sections are back-filled.
// The process never refuses to start over config problems.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.doc = DefaultDocument()
		if saveErr := s.saveLocked(); saveErr != nil {
			s.logger.Error("failed to write default config", "path", s.path, "err", saveErr)
		} else {
			s.logger.Warn("config file not found, created default", "path", s.path)
		}
		return
	}
	if err != nil {
		s.logger.Error("failed to read config, using defaults", "path", s.path, "err", err)
		s.doc = DefaultDocument()
		return
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Error("failed to parse config, using defaults", "path", s.path, "err", err)
		s.doc = DefaultDocument()
		return
	}

	s.backfill(&doc)
	doc.Normalize()
	s.doc = &doc
	s.logger.Info("config loaded", "path", s.path, "targets", len(doc.Targets), "routes", len(doc.Routes))
}

// backfill restores required top-level sections dropped from a hand-edited
// file. Only routes and templates warrant a warning; an absent target list
// is simply empty.
func (s *Store) backfill(doc *Document) {
	if doc.Targets == nil {
		doc.Targets = []Target{}
	}
	if doc.Routes == nil {
		doc.Routes = DefaultDocument().Routes
		s.logger.Warn("config missing routes section, defaults added", "path", s.path)
	}
	if doc.Templates == nil {
		doc.Templates = DefaultDocument().Templates
		s.logger.Warn("config missing templates section, defaults added", "path", s.path)
	}
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Mutate applies fn to the live document under the writer lock and persists
// the result. An error from fn aborts the mutation and is returned; a
// persistence failure is logged and swallowed, leaving the in-memory change
// in effect.
func (s *Store) Mutate(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.doc); err != nil {
		return err
	}
	s.doc.Normalize()
	if err := s.saveLocked(); err != nil {
		s.logger.Error("failed to persist config change", "path", s.path, "err", err)
	}
	return nil
}

// Save persists the current document.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := marshalDocument(s.doc)
	if err != nil {
		return fmt.Errorf("store: encode config: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create config dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	s.lastWrite = hashBytes(data)
	s.logger.Debug("config saved", "path", s.path)
	return nil
}

// Reload re-reads the config file and replaces the in-memory document,
// returning a snapshot of the result. Unlike Load it propagates read and
// parse errors without touching the current document, so a botched external
// edit cannot wipe the live catalogue.
func (s *Store) Reload() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", s.path, err)
	}
	s.backfill(&doc)
	doc.Normalize()
	s.doc = &doc
	return s.doc.Clone(), nil
}

// FileHash returns the SHA256 hex digest of the raw file bytes.
func (s *Store) FileHash() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("store: read %s: %w", s.path, err)
	}
	return hashBytes(data), nil
}

// LastWriteHash returns the content hash of the store's own most recent
// write, used by the watcher to tell self-induced file events from
// external edits.
func (s *Store) LastWriteHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastWrite
}

// marshalDocument renders the document the way the gateway persists it:
// four-space indent, HTML escaping off, non-ASCII text preserved as UTF-8.
func marshalDocument(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
