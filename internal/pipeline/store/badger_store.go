// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
)

// BadgerStore is the durable StateStore. Keys are prefixed JSON values:
//   - requests: "req:<id>"
//   - jobs:     "job:<id>"
//   - sequence: "meta:seq"
//
// Badger transactions give the conditional-update semantics the claim needs:
// a claim reads, checks and writes inside one Update, so two workers can
// never both observe the same job as PENDING and both flip it.
type BadgerStore struct {
	db *badger.DB
}

var (
	prefixJob = []byte("job:")
	keySeq    = []byte("meta:seq")
)

func jobKey(id string) []byte     { return []byte("job:" + id) }
func requestKey(id string) []byte { return []byte("req:" + id) }

// OpenBadgerStore opens (or creates) the store at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if path == "" {
		return nil, errors.New("badger store path required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

// update runs fn inside a badger Update transaction, retrying on conflict.
// Every writer here touches shared keys (the sequence counter, job records),
// so badger's SSI aborts one of any two overlapping writers; a conflict only
// means another writer committed first and fn must re-run against the new
// state. fn may execute multiple times and must reset any captured results.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}

func (s *BadgerStore) PutRequest(ctx context.Context, req *model.RequestRecord, jobs []*model.JobRecord) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(requestKey(req.RequestID)); err == nil {
			return fmt.Errorf("request %s already exists", req.RequestID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seq, err := nextSeq(txn, uint64(len(jobs)))
		if err != nil {
			return err
		}
		for i, job := range jobs {
			job.Seq = seq + uint64(i)
			buf, err := json.Marshal(job)
			if err != nil {
				return err
			}
			if err := txn.Set(jobKey(job.JobID), buf); err != nil {
				return err
			}
		}

		buf, err := json.Marshal(req)
		if err != nil {
			return err
		}
		return txn.Set(requestKey(req.RequestID), buf)
	})
}

// nextSeq reserves n sequence numbers and returns the first.
func nextSeq(txn *badger.Txn, n uint64) (uint64, error) {
	var current uint64
	item, err := txn.Get(keySeq)
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return 0, err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return 0, err
	}
	next := current + n
	buf, err := json.Marshal(next)
	if err != nil {
		return 0, err
	}
	return current + 1, txn.Set(keySeq, buf)
}

func (s *BadgerStore) GetRequest(ctx context.Context, id string) (*model.RequestRecord, error) {
	var rec model.RequestRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(requestKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	var rec model.JobRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) UpdateJob(ctx context.Context, id string, fn func(*model.JobRecord) error) (*model.JobRecord, error) {
	var out *model.JobRecord
	err := s.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		var rec model.JobRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		buf, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		if err := txn.Set(jobKey(id), buf); err != nil {
			return err
		}
		out = &rec
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) ScanJobs(ctx context.Context, fn func(*model.JobRecord) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefixJob); it.ValidForPrefix(prefixJob); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var rec model.JobRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				logger := log.L()
				logger.Warn().Err(err).Bytes("key", it.Item().KeyCopy(nil)).Msg("failed to unmarshal job during scan")
				continue
			}
			if err := fn(&rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) ClaimNext(ctx context.Context, owner string, now time.Time) (*model.JobRecord, error) {
	var claimed *model.JobRecord
	err := s.update(ctx, func(txn *badger.Txn) error {
		claimed = nil
		var best *model.JobRecord
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefixJob); it.ValidForPrefix(prefixJob); it.Next() {
			var rec model.JobRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			if !claimable(&rec, now) {
				continue
			}
			if best == nil || rec.Seq < best.Seq {
				cp := rec
				best = &cp
			}
		}
		if best == nil {
			return nil
		}
		applyClaim(best, owner, now)
		buf, err := json.Marshal(best)
		if err != nil {
			return err
		}
		if err := txn.Set(jobKey(best.JobID), buf); err != nil {
			return err
		}
		claimed = best
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *BadgerStore) Heartbeat(ctx context.Context, jobID, owner string, now time.Time) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(jobID))
		if err != nil {
			return err
		}
		var rec model.JobRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if rec.State != model.JobRunning || rec.Owner != owner {
			return ErrLostClaim
		}
		rec.HeartbeatAtUnix = now.Unix()
		buf, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return txn.Set(jobKey(jobID), buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
