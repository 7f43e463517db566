package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/lexstore/pkg/wal"
)

// ErrDeferred reports a record that was journaled but not yet delivered
var ErrDeferred = errors.New("feed: delivery deferred")

// Spool journals records before handing them to the next publisher, so
// records survive broker outages and restarts. Delivery keeps journal order.
type Spool struct {
	next    Publisher
	journal *wal.WAL
	log     zerolog.Logger
	mu      sync.Mutex
}

// NewSpool opens the journal at path in front of next
func NewSpool(next Publisher, path string, log zerolog.Logger) (*Spool, error) {
	journal, err := wal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed spool: %w", err)
	}
	s := &Spool{
		next:    next,
		journal: journal,
		log:     log.With().Str("component", "feed-spool").Logger(),
	}
	if n := len(journal.Pending()); n > 0 {
		s.log.Info().Int("pending", n).Msg("Feed spool holds undelivered records")
	}
	return s, nil
}

// Publish journals rec, then delivers every pending record in order
func (s *Spool) Publish(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.journal.Append([]byte(rec.Key()), data); err != nil {
		return fmt.Errorf("spool record: %w", err)
	}
	return s.drain(ctx)
}

// Drain delivers pending records until one fails
func (s *Spool) Drain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain(ctx)
}

func (s *Spool) drain(ctx context.Context) error {
	pending := s.journal.Pending()
	if len(pending) == 0 {
		return nil
	}
	for _, entry := range pending {
		var rec Record
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			s.log.Error().Err(err).Uint64("lsn", entry.LSN).Msg("Dropping undecodable spooled record")
		} else if err := s.next.Publish(ctx, rec); err != nil {
			return fmt.Errorf("%w: %v", ErrDeferred, err)
		}
		if err := s.journal.Ack(entry.LSN); err != nil {
			return err
		}
	}
	return s.journal.Compact()
}

// Pending is the number of records awaiting delivery
func (s *Spool) Pending() int {
	return len(s.journal.Pending())
}

// Run drains the spool every interval until ctx is done
func (s *Spool) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Drain(ctx); err != nil {
				s.log.Warn().Err(err).Int("pending", s.Pending()).Msg("Feed spool drain failed")
			}
		}
	}
}

// Close closes the journal and the next publisher
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.journal.Close(), s.next.Close())
}
