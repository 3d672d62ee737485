// Package claimlog persists the claim ledger's event journal in a WAL
// so ledger state survives restarts.
package claimlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultDir   = "./wal/claims"
	segmentLimit = 1000
	maxSegments  = 100

	eventKeyPrefix = "ledger_"
)

// Store is the WAL-backed claim journal.
type Store struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewStore opens (or creates) the journal in dir.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "event_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init claim journal WAL")
	}

	return &Store{wal: wal}, nil
}

// Append writes one ledger event to the journal.
func (s *Store) Append(event domain.LedgerEvent) error {
	if s == nil || s.wal == nil {
		return errors.New("claim journal is not initialized")
	}
	if event.Kind == "" {
		return errors.New("ledger event kind is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal ledger event")
	}

	key := fmt.Sprintf("%s%s", eventKeyPrefix, event.Kind)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// Events returns every journaled event in write order.
func (s *Store) Events() ([]domain.LedgerEvent, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("claim journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []domain.LedgerEvent
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, eventKeyPrefix) {
			continue
		}

		var event domain.LedgerEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return nil, errors.Wrapf(err, "decode ledger event %q", msg.Key)
		}
		events = append(events, event)
	}

	return events, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *Store) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("claim journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
