package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securebus/internal/audit"
	"securebus/internal/logger"
	apperrors "securebus/pkg/errors"
)

func fillEntries(sink *audit.MemorySink, topic string, compliant, nonCompliant int, at time.Time) {
	ctx := context.Background()
	for i := 0; i < compliant; i++ {
		sink.RecordAudit(ctx, audit.Entry{
			ID: newID(), Timestamp: at, EventType: audit.EventTypeComplianceValidation,
			Topic: topic, Result: audit.ResultCompliant,
		})
	}
	for i := 0; i < nonCompliant; i++ {
		sink.RecordAudit(ctx, audit.Entry{
			ID: newID(), Timestamp: at, EventType: audit.EventTypeComplianceValidation,
			Topic: topic, Result: audit.ResultNonCompliant, ViolationCount: 2, WarningCount: 1,
		})
	}
}

func TestGenerateReport(t *testing.T) {
	sink := audit.NewMemorySink()
	engine := NewEngine(sink, logger.NopLogger(), WithReader(sink))

	start := fixedNow.Add(-time.Hour)
	fillEntries(sink, "payments", 90, 10, fixedNow)
	fillEntries(sink, "ledger", 5, 0, fixedNow)
	fillEntries(sink, "payments", 0, 50, fixedNow.Add(-48*time.Hour))

	report, err := engine.GenerateReport(context.Background(), start, fixedNow.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 105, report.TotalValidations)
	assert.Equal(t, 95, report.Compliant)
	assert.Equal(t, 10, report.NonCompliant)
	assert.Equal(t, 20, report.TotalViolations)
	assert.Equal(t, 10, report.TotalWarnings)
	assert.InDelta(t, 95.0/105.0, report.ComplianceRate, 1e-9)
	assert.Equal(t, TopicSummary{Validations: 100, NonCompliant: 10}, report.Topics["payments"])

	require.NotEmpty(t, report.Recommendations)
	assert.Contains(t, report.Recommendations[0], "exceeds 5%")
}

func TestGenerateReportBelowThreshold(t *testing.T) {
	sink := audit.NewMemorySink()
	engine := NewEngine(sink, logger.NopLogger(), WithReader(sink))
	fillEntries(sink, "payments", 99, 1, fixedNow)

	report, err := engine.GenerateReport(context.Background(), fixedNow.Add(-time.Minute), fixedNow.Add(time.Minute))
	require.NoError(t, err)

	for _, rec := range report.Recommendations {
		assert.NotContains(t, rec, "exceeds 5%")
	}
}

func TestGenerateReportEmptyWindow(t *testing.T) {
	sink := audit.NewMemorySink()
	engine := NewEngine(sink, logger.NopLogger(), WithReader(sink))

	report, err := engine.GenerateReport(context.Background(), fixedNow, fixedNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.TotalValidations)
	require.Len(t, report.Recommendations, 1)
}

func TestGenerateReportErrors(t *testing.T) {
	engine := NewEngine(audit.NewMemorySink(), logger.NopLogger())
	_, err := engine.GenerateReport(context.Background(), fixedNow, fixedNow.Add(time.Hour))
	assert.Error(t, err)

	sink := audit.NewMemorySink()
	engine = NewEngine(sink, logger.NopLogger(), WithReader(sink))
	_, err = engine.GenerateReport(context.Background(), fixedNow, fixedNow.Add(-time.Hour))
	assert.True(t, apperrors.IsValidation(err))
}
