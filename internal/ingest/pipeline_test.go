package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"auditwatch/internal/elasticsearch"
	"auditwatch/internal/events"
	"auditwatch/internal/geoip"
	"auditwatch/internal/metrics"
	"auditwatch/internal/notification"
)

type fakeRecorder struct {
	mu     sync.Mutex
	err    error
	events []notification.Event
	sevs   []events.Severity
}

func (r *fakeRecorder) SaveEvent(_ context.Context, e *notification.Event, sev events.Severity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, *e)
	r.sevs = append(r.sevs, sev)
	return nil
}

type fakeIndexer struct {
	mu   sync.Mutex
	docs []*elasticsearch.EventDocument
	err  error
}

func (i *fakeIndexer) IndexEvent(_ context.Context, doc *elasticsearch.EventDocument) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.docs = append(i.docs, doc)
	return i.err
}

type fakeDispatcher struct {
	calls  int
	report notification.Report
}

func (d *fakeDispatcher) Dispatch(context.Context, *notification.Event) notification.Report {
	d.calls++
	return d.report
}

func TestIngestRecordsIndexesAndDispatches(t *testing.T) {
	rec := &fakeRecorder{}
	idx := &fakeIndexer{}
	disp := &fakeDispatcher{report: notification.Report{Fired: 1}}
	m := metrics.New(prometheus.NewRegistry())

	p := NewPipeline(rec, disp, events.NewRegistry(),
		WithIndexer(idx, 10), WithMetrics(m), WithLogger(zaptest.NewLogger(t)))
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	p.Start()

	res, err := p.Ingest(context.Background(), &notification.Event{KindID: events.KindUserCreated, Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, p.Stop(context.Background()))

	assert.NotEmpty(t, res.EventID)
	assert.Equal(t, events.SeverityCritical, res.Severity)
	assert.Equal(t, 1, res.Report.Fired)
	assert.Equal(t, 1, disp.calls)

	require.Len(t, rec.events, 1)
	assert.Equal(t, res.EventID, rec.events[0].ID)
	assert.Equal(t, now, rec.events[0].Timestamp)

	require.Len(t, idx.docs, 1)
	assert.Equal(t, res.EventID, idx.docs[0].EventID)
	assert.Equal(t, "critical", idx.docs[0].Severity)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRecorded.WithLabelValues("critical")))
}

func TestIngestRejectsInvalidEvent(t *testing.T) {
	rec := &fakeRecorder{}
	p := NewPipeline(rec, &fakeDispatcher{}, nil)

	_, err := p.Ingest(context.Background(), &notification.Event{})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	_, err = p.Ingest(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Empty(t, rec.events)
}

func TestIngestDoesNotDispatchUnrecordedEvents(t *testing.T) {
	disp := &fakeDispatcher{}
	p := NewPipeline(&fakeRecorder{err: errors.New("disk full")}, disp, nil)

	_, err := p.Ingest(context.Background(), &notification.Event{KindID: events.KindLogin})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, disp.calls)
}

func TestIngestKeepsRecordWhenDispatchFails(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &fakeRecorder{}
	disp := &fakeDispatcher{report: notification.Report{Err: notification.ErrRuleStoreUnavailable}}
	p := NewPipeline(rec, disp, nil, WithLogger(zap.New(core)))

	res, err := p.Ingest(context.Background(), &notification.Event{ID: "evt-1", KindID: events.KindLogin})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Report.Err, notification.ErrRuleStoreUnavailable)
	assert.Len(t, rec.events, 1)
	assert.Equal(t, 1, logs.FilterMessage("Dispatch pass did not complete").Len())
}

func TestIndexBufferFullDropsWithoutBlocking(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	idx := &fakeIndexer{}
	// writer not started: the single slot fills on the first event
	p := NewPipeline(&fakeRecorder{}, nil, nil, WithIndexer(idx, 1), WithLogger(zap.New(core)))

	for i := 0; i < 3; i++ {
		_, err := p.Ingest(context.Background(), &notification.Event{KindID: events.KindLogin})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, logs.FilterMessage("ES buffer full, dropping event").Len())

	p.Start()
	require.NoError(t, p.Stop(context.Background()))
	assert.Len(t, idx.docs, 1)
}

type staticRules []notification.RuleDefinition

func (s staticRules) ListEnabledRules(context.Context) ([]notification.RuleDefinition, error) {
	return s, nil
}

func (s staticRules) GetRule(_ context.Context, id uint) (notification.RuleDefinition, error) {
	for _, r := range s {
		if r.ID == id {
			return r, nil
		}
	}
	return notification.RuleDefinition{}, notification.ErrRuleNotFound
}

type countingSender struct {
	mu     sync.Mutex
	emails []string
}

func (c *countingSender) SendEmail(_ context.Context, address, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emails = append(c.emails, address)
	return nil
}

func (c *countingSender) SendSMS(context.Context, string, string) error { return nil }

func TestIngestWithDispatcher(t *testing.T) {
	rules := staticRules{{
		ID:       1,
		Name:     "critical events",
		Enabled:  true,
		Triggers: []notification.StoredTrigger{{Field: 0, Operator: 0, Value: "9999"}},
		Emails:   []string{"ops@example.com"},

		CriticalOnly: true,
	}}
	sender := &countingSender{}
	registry := events.NewRegistry()
	d := notification.NewDispatcher(rules, sender, notification.WithSeverity(registry))

	p := NewPipeline(&fakeRecorder{}, d, registry)

	res, err := p.Ingest(context.Background(), &notification.Event{KindID: events.KindPluginInstalled})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Fired)
	assert.Equal(t, []string{"ops@example.com"}, sender.emails)

	res, err = p.Ingest(context.Background(), &notification.Event{KindID: events.KindLogin})
	require.NoError(t, err)
	assert.Zero(t, res.Report.Fired)
}

type fakeLocator struct {
	loc *geoip.Location
	err error
}

func (f fakeLocator) Locate(context.Context, string) (*geoip.Location, error) {
	return f.loc, f.err
}

func TestIndexedDocumentsAreGeoEnriched(t *testing.T) {
	idx := &fakeIndexer{}
	loc := &geoip.Location{IP: "198.51.100.7", Country: "Germany", City: "Frankfurt", Latitude: 50.11, Longitude: 8.68}
	p := NewPipeline(&fakeRecorder{}, nil, nil, WithIndexer(idx, 10), WithGeoLocator(fakeLocator{loc: loc}))
	p.Start()

	_, err := p.Ingest(context.Background(), &notification.Event{KindID: events.KindFailedLoginKnown, SourceIP: "198.51.100.7"})
	require.NoError(t, err)
	_, err = p.Ingest(context.Background(), &notification.Event{KindID: events.KindFailedLoginKnown})
	require.NoError(t, err)
	require.NoError(t, p.Stop(context.Background()))

	require.Len(t, idx.docs, 2)
	require.NotNil(t, idx.docs[0].Geo)
	assert.Equal(t, "Frankfurt", idx.docs[0].Geo.City)
	assert.InDelta(t, 8.68, idx.docs[0].Geo.Location.Lon, 0.001)
	assert.Nil(t, idx.docs[1].Geo)
}

func TestGeoLookupFailureStillIndexes(t *testing.T) {
	idx := &fakeIndexer{}
	p := NewPipeline(&fakeRecorder{}, nil, nil, WithIndexer(idx, 10),
		WithGeoLocator(fakeLocator{err: errors.New("rate limited")}))
	p.Start()

	_, err := p.Ingest(context.Background(), &notification.Event{KindID: events.KindFailedLoginKnown, SourceIP: "198.51.100.7"})
	require.NoError(t, err)
	require.NoError(t, p.Stop(context.Background()))

	require.Len(t, idx.docs, 1)
	assert.Nil(t, idx.docs[0].Geo)
}
