// Package feed publishes per-edition change records for downstream consumers
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/lexstore/pkg/history"
)

// Record lists the article slots an edition inserted, updated or deleted
type Record struct {
	Domain      string           `json:"domain"`
	IDLocal     string           `json:"id_local"`
	Version     string           `json:"version"`
	Changes     []history.Change `json:"changes"`
	PublishedAt time.Time        `json:"published_at"`

	// Fingerprints holds the content digest of every inserted or updated slot
	Fingerprints map[string]string `json:"fingerprints,omitempty"`
}

// Key partitions records by document so one document's editions stay ordered
func (r Record) Key() string {
	return r.Domain + "-" + r.IDLocal
}

// Publisher delivers change records
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// Log writes records to a logger
type Log struct {
	log zerolog.Logger
}

// NewLog creates a logging publisher
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "feed").Logger()}
}

// Publish logs rec
func (l *Log) Publish(_ context.Context, rec Record) error {
	body, err := json.Marshal(rec.Changes)
	if err != nil {
		return err
	}
	l.log.Info().
		Str("domain", rec.Domain).
		Str("id_local", rec.IDLocal).
		Str("version", rec.Version).
		RawJSON("changes", body).
		Msg("edition changes")
	return nil
}

// Close is a no-op
func (l *Log) Close() error { return nil }
