package compliance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"securebus/internal/audit"
	"securebus/internal/constants"
	apperrors "securebus/pkg/errors"
)

type TopicSummary struct {
	Validations  int `json:"validations"`
	NonCompliant int `json:"nonCompliant"`
}

type Report struct {
	ReportID         string                  `json:"reportId"`
	GeneratedAt      time.Time               `json:"generatedAt"`
	PeriodStart      time.Time               `json:"periodStart"`
	PeriodEnd        time.Time               `json:"periodEnd"`
	TotalValidations int                     `json:"totalValidations"`
	Compliant        int                     `json:"compliant"`
	NonCompliant     int                     `json:"nonCompliant"`
	TotalViolations  int                     `json:"totalViolations"`
	TotalWarnings    int                     `json:"totalWarnings"`
	ComplianceRate   float64                 `json:"complianceRate"`
	Topics           map[string]TopicSummary `json:"topics"`
	Recommendations  []string                `json:"recommendations"`
}

// GenerateReport aggregates audit entries in [start, end].
func (e *Engine) GenerateReport(ctx context.Context, start, end time.Time) (Report, error) {
	if e.reader == nil {
		return Report{}, apperrors.ErrInternal.WithMessage("audit reader not configured")
	}
	if end.Before(start) {
		return Report{}, apperrors.ErrValidation.WithMessage("report end precedes start")
	}

	entries, err := e.reader.Entries(ctx, start, end)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read audit entries: %w", err)
	}

	report := Report{
		ReportID:    newID(),
		GeneratedAt: e.now().UTC(),
		PeriodStart: start,
		PeriodEnd:   end,
		Topics:      make(map[string]TopicSummary),
	}

	for _, entry := range entries {
		if entry.EventType != audit.EventTypeComplianceValidation {
			continue
		}
		report.TotalValidations++
		report.TotalViolations += entry.ViolationCount
		report.TotalWarnings += entry.WarningCount

		summary := report.Topics[entry.Topic]
		summary.Validations++
		if entry.Result == audit.ResultNonCompliant {
			report.NonCompliant++
			summary.NonCompliant++
		} else {
			report.Compliant++
		}
		report.Topics[entry.Topic] = summary
	}

	if report.TotalValidations > 0 {
		report.ComplianceRate = float64(report.Compliant) / float64(report.TotalValidations)
	}
	report.Recommendations = recommendations(report)

	e.logger.InfowCtx(ctx, "Compliance report generated",
		"report_id", report.ReportID,
		"validations", report.TotalValidations,
		"non_compliant", report.NonCompliant,
	)

	return report, nil
}

func recommendations(r Report) []string {
	recs := []string{}
	if r.TotalValidations == 0 {
		return append(recs, "No compliance validations recorded in the period; verify producers are routed through the engine")
	}

	ratio := float64(r.NonCompliant) / float64(r.TotalValidations)
	if ratio > constants.NonCompliantRatioThreshold {
		recs = append(recs, fmt.Sprintf(
			"Non-compliant ratio %.1f%% exceeds %.0f%%: review rule violations and producer payloads",
			ratio*100, constants.NonCompliantRatioThreshold*100,
		))

		topics := make([]string, 0, len(r.Topics))
		for topic, s := range r.Topics {
			if s.NonCompliant > 0 {
				topics = append(topics, topic)
			}
		}
		sort.Strings(topics)
		for _, topic := range topics {
			s := r.Topics[topic]
			recs = append(recs, fmt.Sprintf("Topic %s: %d of %d validations non-compliant", topic, s.NonCompliant, s.Validations))
		}
	}

	if r.TotalWarnings > 0 {
		recs = append(recs, fmt.Sprintf("%d retention warnings: review retention policies and consumer lag", r.TotalWarnings))
	}

	return recs
}
