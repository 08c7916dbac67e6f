// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
)

// settleDelay gives an uploader time to finish writing before the file is
// registered. Uploads are expected to land via rename or complete quickly.
const settleDelay = 500 * time.Millisecond

// Watch registers source files dropped into the sources directory until ctx
// is cancelled. Existing unregistered files are picked up on start.
func (s *Store) Watch(ctx context.Context) error {
	dir, err := s.Dir(model.AssetSource)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// Catch up on files that landed before the watch started.
	if err := s.scanSources(dir); err != nil {
		s.log.Warn().Err(err).Str(log.FieldPath, dir).Msg("initial source scan failed")
	}

	// Settling is tracked per file so one slow upload never stalls the event
	// loop: each file gets a deadline and a single timer fires for the
	// earliest one due.
	pending := make(map[string]time.Time)
	settle := time.NewTimer(settleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			pending[name] = time.Now().Add(settleDelay)
			if len(pending) == 1 {
				settle.Reset(settleDelay)
			}
		case <-settle.C:
			now := time.Now()
			var next time.Duration
			for name, due := range pending {
				if wait := due.Sub(now); wait > 0 {
					if next == 0 || wait < next {
						next = wait
					}
					continue
				}
				delete(pending, name)
				if err := s.registerSource(dir, name); err != nil {
					s.log.Warn().Err(err).Str(log.FieldAssetID, name).Msg("failed to register dropped source")
				}
			}
			if next > 0 {
				settle.Reset(next)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (s *Store) scanSources(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := s.Get(model.AssetRef{Kind: model.AssetSource, ID: entry.Name()}); ok {
			continue
		}
		if err := s.registerSource(dir, entry.Name()); err != nil {
			s.log.Warn().Err(err).Str(log.FieldAssetID, entry.Name()).Msg("failed to register existing source")
		}
	}
	return nil
}

func (s *Store) registerSource(dir, name string) error {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// Deleted again or not a file; nothing to register.
		return nil
	}
	_, err = s.Register(model.AssetSource, path, "", 0, info.Size())
	return err
}
