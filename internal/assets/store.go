// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package assets resolves logical asset references to filesystem paths and
// registers derived outputs. It is the only component that owns asset files;
// jobs reference assets, never own them.
package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/clipforge/internal/fsutil"
	"github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
)

// ErrNotFound is returned when a referenced asset file is absent.
var ErrNotFound = errors.New("asset not found")

const indexFile = "assets.json"

// kindDirs maps each asset kind to its directory under the store root.
var kindDirs = map[model.AssetKind]string{
	model.AssetSource:       "sources",
	model.AssetWatermark:    "watermarks",
	model.AssetOverlayVideo: "overlays/video",
	model.AssetOverlayImage: "overlays/image",
	model.AssetOutput:       "outputs",
}

// Store resolves and registers assets under a fixed directory tree.
// Resolution always re-checks the filesystem: misresolution corrupts a job
// silently, so correctness matters more than speed here.
type Store struct {
	root string
	log  zerolog.Logger

	mu    sync.RWMutex
	index map[string]model.AssetRecord // key: kind "/" id
}

// NewStore creates a Store rooted at root. Call EnsureDirectories before
// running any job.
func NewStore(root string) *Store {
	return &Store{
		root:  root,
		log:   log.WithComponent("assets"),
		index: make(map[string]model.AssetRecord),
	}
}

// Root returns the asset root directory.
func (s *Store) Root() string { return s.root }

// EnsureDirectories idempotently creates the fixed directory tree and loads
// the persisted index. Invoked once per process lifetime at startup.
func (s *Store) EnsureDirectories() error {
	for kind, dir := range kindDirs {
		full := filepath.Join(s.root, dir)
		if err := os.MkdirAll(full, 0o750); err != nil {
			return fmt.Errorf("create %s directory: %w", kind, err)
		}
	}
	if err := os.MkdirAll(s.TempDir(), 0o750); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	return s.loadIndex()
}

// TempDir is the staging area for in-flight encoder output. It lives on the
// same filesystem as the output directory so promotion is a single rename.
func (s *Store) TempDir() string {
	return filepath.Join(s.root, "tmp")
}

// Dir returns the directory for the given kind.
func (s *Store) Dir(kind model.AssetKind) (string, error) {
	dir, ok := kindDirs[kind]
	if !ok {
		return "", fmt.Errorf("unknown asset kind %q", kind)
	}
	return filepath.Join(s.root, dir), nil
}

// Resolve maps a logical reference to an existing file path. The identifier
// is confined to the kind's directory; a missing or irregular file yields
// ErrNotFound.
func (s *Store) Resolve(ref model.AssetRef) (string, error) {
	dir, err := s.Dir(ref.Kind)
	if err != nil {
		return "", err
	}
	if ref.ID == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrNotFound)
	}
	path, err := fsutil.ConfineRelPath(dir, ref.ID)
	if err != nil {
		return "", fmt.Errorf("resolve %s/%s: %w", ref.Kind, ref.ID, err)
	}
	if err := fsutil.IsRegularFile(path); err != nil {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, ref.Kind, ref.ID)
	}
	return path, nil
}

// Register records an asset that already exists at path inside the kind's
// directory and persists the index. Output assets carry probe metadata and
// the source asset they were derived from.
func (s *Store) Register(kind model.AssetKind, path, derivedFrom string, durationSec float64, sizeBytes int64) (model.AssetRecord, error) {
	dir, err := s.Dir(kind)
	if err != nil {
		return model.AssetRecord{}, err
	}
	if err := fsutil.IsRegularFile(path); err != nil {
		return model.AssetRecord{}, fmt.Errorf("register %s: %w", path, err)
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || filepath.Dir(rel) != "." {
		return model.AssetRecord{}, fmt.Errorf("register: %s is not directly inside the %s directory", path, kind)
	}

	rec := model.AssetRecord{
		ID:            filepath.Base(path),
		Kind:          kind,
		Path:          path,
		SizeBytes:     sizeBytes,
		DurationSec:   durationSec,
		DerivedFrom:   derivedFrom,
		CreatedAtUnix: time.Now().Unix(),
	}

	s.mu.Lock()
	s.index[indexKey(kind, rec.ID)] = rec
	err = s.persistIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return model.AssetRecord{}, err
	}

	s.log.Info().
		Str(log.FieldEvent, "asset.registered").
		Str(log.FieldAssetID, rec.ID).
		Str("kind", string(kind)).
		Int64("size_bytes", sizeBytes).
		Msg("asset registered")
	return rec, nil
}

// Get returns the indexed record for a reference, if registered.
func (s *Store) Get(ref model.AssetRef) (model.AssetRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.index[indexKey(ref.Kind, ref.ID)]
	return rec, ok
}

// List returns all registered assets of the given kind, newest first.
func (s *Store) List(kind model.AssetKind) []model.AssetRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AssetRecord
	for _, rec := range s.index {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUnix != out[j].CreatedAtUnix {
			return out[i].CreatedAtUnix > out[j].CreatedAtUnix
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func indexKey(kind model.AssetKind, id string) string {
	return string(kind) + "/" + id
}

// persistIndexLocked writes the index snapshot atomically. Callers hold s.mu.
func (s *Store) persistIndexLocked() error {
	records := make([]model.AssetRecord, 0, len(s.index))
	for _, rec := range s.index {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return indexKey(records[i].Kind, records[i].ID) < indexKey(records[j].Kind, records[j].ID)
	})
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal asset index: %w", err)
	}
	return fsutil.WriteAtomic(filepath.Join(s.root, indexFile), data)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.root, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read asset index: %w", err)
	}
	var records []model.AssetRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse asset index: %w", err)
	}
	s.mu.Lock()
	for _, rec := range records {
		s.index[indexKey(rec.Kind, rec.ID)] = rec
	}
	s.mu.Unlock()
	return nil
}
