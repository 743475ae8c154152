package audit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securebus/internal/logger"
	"securebus/internal/transport"
	"securebus/pkg/metrics"
)

func TestMemorySink_EntriesWindow(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		sink.RecordAudit(ctx, Entry{ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}

	entries, err := sink.Entries(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, "d", entries[2].ID)
	assert.Len(t, sink.AllEntries(), 5)
}

func TestMemorySink_ConcurrentAppendAndRead(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sink.RecordAudit(ctx, Entry{Timestamp: time.Now()})
				sink.RecordSecurity(ctx, SecurityEvent{Type: SecurityConnected})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = sink.Entries(ctx, time.Time{}, time.Now().Add(time.Hour))
				_ = sink.SecurityEvents()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sink.AllEntries(), 1000)
	assert.Len(t, sink.SecurityEventsOfType(SecurityConnected), 1000)
}

func TestMultiSink_FansOut(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	multi := NewMultiSink(NewLogSink(logger.NopLogger()), a, b)
	ctx := context.Background()

	multi.RecordAudit(ctx, Entry{ID: "1"})
	multi.RecordSecurity(ctx, SecurityEvent{Type: SecurityConnected, Severity: SeverityCritical})
	multi.RecordPerformance(ctx, PerformanceMetric{Name: "throughput"})
	multi.RecordBusiness(ctx, BusinessEvent{Type: BusinessMessageSent})

	for _, s := range []*MemorySink{a, b} {
		assert.Len(t, s.AllEntries(), 1)
		assert.Len(t, s.SecurityEvents(), 1)
		assert.Len(t, s.PerformanceMetrics(), 1)
		assert.Len(t, s.BusinessEvents(), 1)
	}

	reader, ok := multi.Reader()
	require.True(t, ok)
	assert.Same(t, a, reader)
}

type blockingSink struct {
	MemorySink
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) RecordAudit(ctx context.Context, entry Entry) {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	s.MemorySink.RecordAudit(ctx, entry)
}

func TestAsyncSink_DeliversInOrder(t *testing.T) {
	next := NewMemorySink()
	sink := NewAsyncSink("test-order", next, 16, logger.NopLogger())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		sink.RecordAudit(ctx, Entry{ID: string(rune('a' + i))})
	}
	require.NoError(t, sink.Close(ctx))

	entries := next.AllEntries()
	require.Len(t, entries, 10)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "j", entries[9].ID)
}

func TestAsyncSink_DropsWhenFullAndCounts(t *testing.T) {
	next := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	sink := NewAsyncSink("test-full", next, 1, logger.NopLogger())
	ctx := context.Background()

	sink.RecordAudit(ctx, Entry{ID: "first"})
	<-next.started

	sink.RecordAudit(ctx, Entry{ID: "queued"})
	sink.RecordAudit(ctx, Entry{ID: "dropped"})

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditDroppedTotal.WithLabelValues("test-full", "audit")))

	close(next.release)
	require.NoError(t, sink.Close(ctx))

	entries := next.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].ID)
	assert.Equal(t, "queued", entries[1].ID)
}

func TestAsyncSink_AfterCloseIsCounted(t *testing.T) {
	next := NewMemorySink()
	sink := NewAsyncSink("test-closed", next, 4, logger.NopLogger())
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))

	sink.RecordSecurity(context.Background(), SecurityEvent{Type: SecurityConnected})

	assert.Empty(t, next.SecurityEvents())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditDroppedTotal.WithLabelValues("test-closed", "security")))
}

func TestAsyncSink_EntriesDelegates(t *testing.T) {
	next := NewMemorySink()
	sink := NewAsyncSink("test-reader", next, 4, logger.NopLogger())
	ctx := context.Background()

	sink.RecordAudit(ctx, Entry{ID: "x", Timestamp: time.Now()})
	require.NoError(t, sink.Close(ctx))

	entries, err := sink.Entries(ctx, time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTopicSink_PublishesJSON(t *testing.T) {
	broker := transport.NewMemoryBroker()
	pub := transport.NewMemoryPublisher(broker)
	require.NoError(t, pub.Connect(context.Background()))

	sink := NewTopicSink("securebus.audit", pub, logger.NopLogger())
	sink.RecordAudit(context.Background(), Entry{ID: "a-1", MessageID: "m-1", Result: ResultNonCompliant})

	records := broker.Records("securebus.audit")
	require.Len(t, records, 1)
	assert.Equal(t, "m-1", string(records[0].Key))
	assert.Equal(t, "audit", records[0].Headers["auditKind"])

	var decoded struct {
		Kind   string `json:"kind"`
		Record Entry  `json:"record"`
	}
	require.NoError(t, json.Unmarshal(records[0].Value, &decoded))
	assert.Equal(t, "audit", decoded.Kind)
	assert.Equal(t, "a-1", decoded.Record.ID)
	assert.Equal(t, ResultNonCompliant, decoded.Record.Result)
}

func TestTopicSink_PublishFailureIsCounted(t *testing.T) {
	pub := transport.NewMemoryPublisher(transport.NewMemoryBroker())
	sink := NewTopicSink("securebus.audit", pub, logger.NopLogger())

	before := testutil.ToFloat64(metrics.AuditDroppedTotal.WithLabelValues("topic", "business"))
	sink.RecordBusiness(context.Background(), BusinessEvent{MessageID: "m"})
	after := testutil.ToFloat64(metrics.AuditDroppedTotal.WithLabelValues("topic", "business"))

	assert.Equal(t, before+1, after)
}
