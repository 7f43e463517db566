// Package service is the application layer shared by the gRPC and admin transports.
// It resolves aliases, instruments engine calls, publishes change records
// and runs the upload recovery of the index admin.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nainya/lexstore/internal/feed"
	"github.com/nainya/lexstore/internal/logger"
	"github.com/nainya/lexstore/internal/metrics"
	"github.com/nainya/lexstore/pkg/alias"
	"github.com/nainya/lexstore/pkg/history"
	"github.com/nainya/lexstore/pkg/part"
	"github.com/nainya/lexstore/pkg/storage"
	"github.com/nainya/lexstore/pkg/store"
)

// ErrDomainMismatch: an upload addressed to one domain carries another
var ErrDomainMismatch = errors.New("inconsistent document domain")

// ErrInvalidArgument: a request parameter could not be parsed
var ErrInvalidArgument = errors.New("invalid argument")

// statser is implemented by stores that report file statistics
type statser interface {
	Stats() (storage.Stats, error)
}

// Service wraps a history engine for the transports
type Service struct {
	engine      *history.Engine
	store       store.ContentStore
	aliases     *alias.Table
	feed        feed.Publisher
	metrics     *metrics.Metrics
	log         *logger.Logger
	uploadPause time.Duration
}

// Option configures a Service
type Option func(*Service)

// WithAliases sets the alias table used to canonicalize id_local values
func WithAliases(t *alias.Table) Option {
	return func(s *Service) { s.aliases = t }
}

// WithFeed sets the change-record publisher
func WithFeed(p feed.Publisher) Option {
	return func(s *Service) { s.feed = p }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithUploadPause sets the wait before an upload's retry after a store timeout
func WithUploadPause(d time.Duration) Option {
	return func(s *Service) { s.uploadPause = d }
}

// New creates a service over engine and the store it writes to
func New(engine *history.Engine, st store.ContentStore, opts ...Option) *Service {
	s := &Service{
		engine:      engine,
		store:       st,
		aliases:     alias.Empty(),
		log:         logger.Nop(),
		uploadPause: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Doc identifies a document, accepting aliases for idLocal
func (s *Service) Doc(domain, idLocal string) part.DocID {
	return part.DocID{Domain: domain, IDLocal: s.aliases.Canonical(idLocal)}
}

// Alias is the popular name of idLocal
func (s *Service) Alias(idLocal string) string {
	return s.aliases.Alias(idLocal)
}

func (s *Service) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, err, time.Since(start))
	}
}

func (s *Service) updateStats() {
	st, ok := s.store.(statser)
	if !ok || s.metrics == nil {
		return
	}
	stats, err := st.Stats()
	if err != nil {
		s.log.Warn("store stats unavailable").Err(err).Send()
		return
	}
	s.metrics.UpdateStoreStats(stats.Pages, stats.FreePages, stats.FileBytes)
}

// Incorporate merges v and publishes its change record
func (s *Service) Incorporate(ctx context.Context, v *history.DocumentVersion) (res *history.IncorporationResult, err error) {
	start := time.Now()
	doc := v.Doc()
	defer func() {
		s.observe("incorporate", start, err)
		inc := logger.Incorporation{Domain: doc.Domain, IDLocal: doc.IDLocal, Version: v.Version}
		if res != nil {
			inc.New = len(res.New)
			inc.Relabeled = len(res.Relabeled)
			inc.Retired = len(res.Changed)
			inc.Obsoleted = len(res.Obsoleted)
			if s.metrics != nil {
				s.metrics.RecordParts(inc.New, inc.Relabeled, inc.Retired, inc.Obsoleted)
			}
		}
		s.log.LogIncorporation(inc, time.Since(start), err)
		s.updateStats()
	}()

	res, err = s.engine.Incorporate(ctx, v)
	if err != nil {
		return nil, err
	}
	if v.Available {
		s.publish(ctx, doc, v.Version, res.Fingerprints)
	}
	return res, nil
}

// publish never fails the request; a lost record is logged and counted
func (s *Service) publish(ctx context.Context, doc part.DocID, label string, fingerprints map[string]string) {
	if s.feed == nil {
		return
	}
	changes, err := s.engine.SubIDChange(ctx, doc, label)
	if err == nil {
		rec := feed.Record{
			Domain:      doc.Domain,
			IDLocal:     doc.IDLocal,
			Version:     label,
			Changes:     changes,
			PublishedAt: time.Now().UTC(),
		}
		for _, c := range changes {
			if fp, ok := fingerprints[c.SubID]; ok && c.Kind != history.ChangeDelete {
				if rec.Fingerprints == nil {
					rec.Fingerprints = make(map[string]string)
				}
				rec.Fingerprints[c.SubID] = fp
			}
		}
		err = s.feed.Publish(ctx, rec)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.FeedFailuresTotal.Inc()
		}
		s.log.HistoryLogger(doc.Domain, doc.IDLocal).Warn("change record not published").
			Str("version", label).Err(err).Send()
	}
}

// recoverable reports whether a failed upload may have left its label behind
func recoverable(err error) bool {
	for _, permanent := range []error{
		history.ErrInconsistentHistory,
		history.ErrMissingDateDocument,
		history.ErrDocumentMismatch,
		history.ErrIncompleteVersion,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

// Upload incorporates an edition posted to domain. When the incorporation
// fails after its label reached the stored ledger, that label is removed
// again; a store timeout is retried once after the upload pause.
func (s *Service) Upload(ctx context.Context, domain string, v *history.DocumentVersion) (*history.IncorporationResult, error) {
	doc := v.Doc()
	if doc.Domain != domain {
		return nil, fmt.Errorf("%w: %q posted to %q", ErrDomainMismatch, doc.Domain, domain)
	}
	res, err := s.Incorporate(ctx, v)
	if err == nil {
		return res, nil
	}
	log := s.log.HistoryLogger(doc.Domain, doc.IDLocal)
	log.Error("failed to load edition").Str("version", v.Version).Err(err).Send()
	if !recoverable(err) {
		return nil, err
	}

	if errors.Is(err, history.ErrCommitted) {
		s.rollback(ctx, doc, v.Version)
	}
	if !store.IsTimeout(err) {
		return nil, err
	}

	log.Warn("retrying upload after store timeout").Dur("pause", s.uploadPause).Send()
	select {
	case <-time.After(s.uploadPause):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Incorporate(ctx, v)
}

func (s *Service) rollback(ctx context.Context, doc part.DocID, label string) {
	log := s.log.HistoryLogger(doc.Domain, doc.IDLocal)
	h, err := s.engine.History(ctx, doc)
	if err != nil {
		log.Error("rollback skipped, history unreadable").Str("version", label).Err(err).Send()
		return
	}
	n := len(h.Availabilities)
	if n == 0 || h.Availabilities[n-1].Version != label {
		return
	}
	if err := s.engine.RemoveLatest(ctx, doc); err != nil {
		log.Error("rollback failed").Str("version", label).Err(err).Send()
		return
	}
	if s.metrics != nil {
		s.metrics.RollbacksTotal.Inc()
	}
	log.Warn("edition rolled back").Str("version", label).Send()
}

// RemoveVersion retracts label, which must be the document's last edition
func (s *Service) RemoveVersion(ctx context.Context, doc part.DocID, label string) (err error) {
	start := time.Now()
	defer func() { s.observe("remove_latest", start, err) }()
	err = s.engine.RemoveVersion(ctx, doc, label)
	s.updateStats()
	return err
}

// RemoveLatest retracts the document's last edition
func (s *Service) RemoveLatest(ctx context.Context, doc part.DocID) (err error) {
	start := time.Now()
	defer func() { s.observe("remove_latest", start, err) }()
	err = s.engine.RemoveLatest(ctx, doc)
	s.updateStats()
	return err
}

// Purge deletes a document. A document that is already gone reports
// existed=false without an error.
func (s *Service) Purge(ctx context.Context, doc part.DocID) (existed bool, err error) {
	start := time.Now()
	defer func() { s.observe("purge", start, err) }()
	err = s.engine.Purge(ctx, doc)
	s.updateStats()
	if errors.Is(err, history.ErrHistoryNotFound) {
		return false, nil
	}
	return err == nil, err
}

// InsertUnavailable records a known edition without content
func (s *Service) InsertUnavailable(ctx context.Context, doc part.DocID, label string, date time.Time, after string) (err error) {
	start := time.Now()
	defer func() { s.observe("insert_unavailable", start, err) }()
	return s.engine.InsertUnavailable(ctx, doc, label, date, after)
}

// InForce reads the document-level in_force flag
func (s *Service) InForce(ctx context.Context, doc part.DocID) (*bool, error) {
	return s.engine.InForce(ctx, doc)
}

// SetInForce cascades the in_force flag and returns the atoms written
func (s *Service) SetInForce(ctx context.Context, doc part.DocID, value *bool) (n int, err error) {
	start := time.Now()
	defer func() { s.observe("set_in_force", start, err) }()
	return s.engine.SetInForce(ctx, doc, value)
}

// Resolve materializes an edition; "latest" is the latest available one
func (s *Service) Resolve(ctx context.Context, doc part.DocID, label string) (*history.DocumentVersion, error) {
	return s.engine.Resolve(ctx, doc, label)
}

// History returns the ledger and deduplication map of a document
func (s *Service) History(ctx context.Context, doc part.DocID) (*history.DocumentHistory, error) {
	return s.engine.History(ctx, doc)
}

// Changes classifies the article slots of an edition
func (s *Service) Changes(ctx context.Context, doc part.DocID, label string) ([]history.Change, error) {
	return s.engine.SubIDChange(ctx, doc, label)
}

// VersionsAvailability lists the editions exposing subID
func (s *Service) VersionsAvailability(ctx context.Context, doc part.DocID, subID string) ([]history.VersionAvailability, error) {
	return s.engine.VersionsAvailability(ctx, doc, subID)
}

// Health checks the store is reachable
func (s *Service) Health(ctx context.Context) error {
	return s.store.Refresh(ctx)
}

// Close releases the feed and the store
func (s *Service) Close() error {
	var errs []error
	if s.feed != nil {
		errs = append(errs, s.feed.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

// ParseInForce reads the admin spelling of the flag: True, False or None
func ParseInForce(value string) (*bool, error) {
	switch value {
	case "True":
		return part.Bool(true), nil
	case "False":
		return part.Bool(false), nil
	case "None":
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q not a valid in-force value", ErrInvalidArgument, value)
}
