// ABOUTME: History engine: merges editions into a document history over a ContentStore
// ABOUTME: Holds the store, clock, logger, optional per-document locker and tracer

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nainya/lexstore/pkg/part"
	"github.com/nainya/lexstore/pkg/store"
)

// LatestAlias resolves to the latest available edition
const LatestAlias = "latest"

// Locker serializes mutations of one document across callers
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Engine implements incorporation, resolution, retraction and flag upkeep.
// Without a Locker, concurrent mutations of the same document race on the
// history read-modify-write and the last writer wins.
type Engine struct {
	store     store.ContentStore
	now       func() time.Time
	log       zerolog.Logger
	locker    Locker
	backlinks *BacklinkKeeper
	retry     RetryPolicy
	tracer    trace.Tracer
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now (tests pin "today")
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithLocker guards every mutating call with a per-document lock
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithRelations enables backlink propagation for incoming covers
func WithRelations(baseIRI string) Option {
	return func(e *Engine) {
		if baseIRI != "" {
			e.backlinks = NewBacklinkKeeper(e.store, baseIRI)
		}
	}
}

// WithRetry sets the timeout retry policy
func WithRetry(attempts int, wait time.Duration) Option {
	return func(e *Engine) { e.retry = RetryPolicy{Attempts: attempts, Wait: wait} }
}

// WithTracer overrides the OpenTelemetry tracer
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine creates an engine over s
func NewEngine(s store.ContentStore, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		now:    time.Now,
		log:    zerolog.Nop(),
		retry:  DefaultRetry,
		tracer: otel.Tracer("github.com/nainya/lexstore/pkg/history"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today is the engine's current date
func (e *Engine) Today() time.Time {
	return dateOnly(e.now())
}

func (e *Engine) span(ctx context.Context, name string, doc part.DocID, label string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("domain", doc.Domain),
		attribute.String("id_local", doc.IDLocal),
	}
	if label != "" {
		attrs = append(attrs, attribute.String("version", label))
	}
	return e.tracer.Start(ctx, "history."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) lock(ctx context.Context, doc part.DocID) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	unlock, err := e.locker.Lock(ctx, "lexstore:history:"+doc.String())
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", doc, err)
	}
	return unlock, nil
}

func (e *Engine) refresh(ctx context.Context) error {
	if err := e.store.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

func (e *Engine) loadHistory(ctx context.Context, doc part.DocID) (*DocumentHistory, error) {
	data, err := e.store.LoadHistory(ctx, doc)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrHistoryNotFound, doc)
	}
	if err != nil {
		return nil, err
	}
	h := NewDocumentHistory(doc)
	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", doc, err)
	}
	h.Doc = doc
	return h, nil
}

func (e *Engine) saveHistory(ctx context.Context, h *DocumentHistory) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", h.Doc, err)
	}
	return e.retry.Do(ctx, func() error {
		return e.store.SaveHistory(ctx, h.Doc, data)
	})
}

func (e *Engine) savePart(ctx context.Context, p part.Part) error {
	if c, ok := p.(*part.Cover); ok {
		c.Normalize()
	}
	return e.retry.Do(ctx, func() error {
		return e.store.Save(ctx, p)
	})
}

// History returns the persisted history of a document
func (e *Engine) History(ctx context.Context, doc part.DocID) (*DocumentHistory, error) {
	return e.loadHistory(ctx, doc)
}

// resolveParts loads the parts exposed by label, keyed by sub_id
func (e *Engine) resolveParts(ctx context.Context, h *DocumentHistory, label string) (map[string]part.Part, error) {
	out := make(map[string]part.Part)
	if label == "" {
		return out, nil
	}
	for subID, hidden := range h.Dedup.Resolve(label) {
		p, err := e.store.Get(ctx, part.Key{
			Domain:        h.Doc.Domain,
			IDLocal:       h.Doc.IDLocal,
			SubID:         subID,
			HiddenVersion: hidden,
		})
		if err != nil {
			return nil, fmt.Errorf("load %s of %s@%s: %w", subID, h.Doc, label, err)
		}
		out[subID] = p
	}
	return out, nil
}

// Resolve materializes one edition of a document. The label "latest"
// stands for the latest available edition.
func (e *Engine) Resolve(ctx context.Context, doc part.DocID, label string) (*DocumentVersion, error) {
	h, err := e.loadHistory(ctx, doc)
	if errors.Is(err, ErrHistoryNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrVersionNotAvailable, err)
	}
	if err != nil {
		return nil, err
	}

	if label == LatestAlias {
		label = h.LatestAvailable(e.now())
	}
	avail, ok := h.Availabilities.Lookup(label)
	if !ok || !avail.Available {
		return nil, fmt.Errorf("%w: %s@%q", ErrVersionNotAvailable, doc, label)
	}

	parts, err := e.resolveParts(ctx, h, label)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %s@%s has no content", ErrVersionNotAvailable, doc, label)
	}

	date := avail.DateDocument
	v := &DocumentVersion{Version: label, DateDocument: &date, Available: true}
	var ok1, ok2, ok3 bool
	v.Cover, ok1 = parts[part.SubIDCover].(*part.Cover)
	v.Contents, ok2 = parts[part.SubIDContents].(*part.ContentsTable)
	v.Preamble, ok3 = parts[part.SubIDPreamble].(*part.Preamble)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: %s@%s lacks cover, contents or preamble", ErrIncompleteVersion, doc, label)
	}

	// dedup map order keeps articles in document order
	for _, subID := range h.Dedup.SubIDs() {
		p, ok := parts[subID]
		if !ok {
			continue
		}
		switch {
		case part.IsDefinitionSubID(subID):
			if d, ok := p.(*part.Definition); ok {
				v.Definitions = append(v.Definitions, d)
			}
		case part.IsArticleSubID(subID):
			if a, ok := p.(*part.Article); ok {
				v.Articles = append(v.Articles, a)
			}
		}
	}
	return v, nil
}
