package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auditwatch/internal/elasticsearch"
	"auditwatch/internal/events"
	"auditwatch/internal/geoip"
	"auditwatch/internal/metrics"
	"auditwatch/internal/notification"
)

// ErrInvalidEvent is returned for events the pipeline refuses to record.
var ErrInvalidEvent = errors.New("invalid event")

// EventRecorder persists audit events.
type EventRecorder interface {
	SaveEvent(ctx context.Context, e *notification.Event, severity events.Severity) error
}

// Indexer writes events to the search index.
type Indexer interface {
	IndexEvent(ctx context.Context, doc *elasticsearch.EventDocument) error
}

// GeoLocator resolves the source address of an indexed event.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (*geoip.Location, error)
}

// Dispatcher runs a notification pass for one event.
type Dispatcher interface {
	Dispatch(ctx context.Context, e *notification.Event) notification.Report
}

// Result is what the pipeline did with one event.
type Result struct {
	EventID  string              `json:"event_id"`
	Severity events.Severity     `json:"severity"`
	Report   notification.Report `json:"report"`
}

type Option func(*Pipeline)

// WithIndexer enables asynchronous indexing through a buffer of the given size.
func WithIndexer(idx Indexer, bufferSize int) Option {
	return func(p *Pipeline) {
		if bufferSize <= 0 {
			bufferSize = 500
		}
		p.indexer = idx
		p.esBuffer = make(chan *elasticsearch.EventDocument, bufferSize)
	}
}

// WithGeoLocator enriches index documents with the source IP location.
func WithGeoLocator(g GeoLocator) Option {
	return func(p *Pipeline) { p.geo = g }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline records an audit event, queues it for indexing and then runs the
// dispatch pass. Recording never depends on the dispatch outcome.
type Pipeline struct {
	recorder   EventRecorder
	dispatcher Dispatcher
	registry   *events.Registry
	indexer    Indexer
	geo        GeoLocator
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	// Async ES writes
	esBuffer chan *elasticsearch.EventDocument
	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
}

func NewPipeline(recorder EventRecorder, dispatcher Dispatcher, registry *events.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		recorder:   recorder,
		dispatcher: dispatcher,
		registry:   registry,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.registry == nil {
		p.registry = events.NewRegistry()
	}
	return p
}

// Start launches the asynchronous index writer.
func (p *Pipeline) Start() {
	if p.indexer == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.esWriter()
	}()
}

// Stop flushes buffered index writes. It returns ctx.Err() if the flush does not finish in time.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		if p.esBuffer != nil {
			close(p.esBuffer)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ingest 记录事件并触发通知规则
func (p *Pipeline) Ingest(ctx context.Context, e *notification.Event) (Result, error) {
	if e == nil || e.KindID <= 0 {
		return Result{}, fmt.Errorf("%w: event id must be positive", ErrInvalidEvent)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now()
	}

	severity := p.registry.GetSeverity(e.KindID)
	if err := p.recorder.SaveEvent(ctx, e, severity); err != nil {
		return Result{}, fmt.Errorf("failed to record event: %w", err)
	}
	p.metrics.IncEventRecorded(string(severity))

	p.enqueueIndex(e, severity)

	result := Result{EventID: e.ID, Severity: severity}
	if p.dispatcher != nil {
		result.Report = p.dispatcher.Dispatch(ctx, e)
		if result.Report.Err != nil {
			p.logger.Warn("Dispatch pass did not complete",
				zap.String("event_id", e.ID),
				zap.Int("kind_id", e.KindID),
				zap.Error(result.Report.Err))
		}
	}
	return result, nil
}

func (p *Pipeline) enqueueIndex(e *notification.Event, severity events.Severity) {
	if p.indexer == nil {
		return
	}
	kind, _ := p.registry.Lookup(e.KindID)
	doc := elasticsearch.NewEventDocument(e, kind, severity)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}

	select {
	case p.esBuffer <- doc:
	default:
		// Buffer full, log warning but don't block
		p.logger.Warn("ES buffer full, dropping event", zap.String("event_id", e.ID))
	}
}

func (p *Pipeline) esWriter() {
	for doc := range p.esBuffer {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		p.enrich(ctx, doc)
		if err := p.indexer.IndexEvent(ctx, doc); err != nil {
			p.logger.Error("Failed to index event",
				zap.String("event_id", doc.EventID),
				zap.Error(err))
		}
		cancel()
	}
}

func (p *Pipeline) enrich(ctx context.Context, doc *elasticsearch.EventDocument) {
	if p.geo == nil || doc.SourceIP == "" {
		return
	}
	loc, err := p.geo.Locate(ctx, doc.SourceIP)
	if err != nil {
		p.logger.Debug("GeoIP lookup failed", zap.String("ip", doc.SourceIP), zap.Error(err))
	}
	if loc == nil {
		return
	}
	doc.Geo = &elasticsearch.GeoInfo{
		Country:  loc.Country,
		Region:   loc.Region,
		City:     loc.City,
		ISP:      loc.ISP,
		Location: elasticsearch.GeoPoint{Lat: loc.Latitude, Lon: loc.Longitude},
	}
}
