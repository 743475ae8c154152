package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"securebus/internal/audit"
	"securebus/internal/constants"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/models"
)

type RequestKind string

const (
	RequestAccess        RequestKind = "ACCESS"
	RequestRectification RequestKind = "RECTIFICATION"
	RequestErasure       RequestKind = "ERASURE"
	RequestPortability   RequestKind = "PORTABILITY"
)

const RequestStatusCompleted = "COMPLETED"

type RequestResult struct {
	RequestID       string                 `json:"requestId" bson:"request_id"`
	Kind            RequestKind            `json:"kind" bson:"kind"`
	SubjectID       string                 `json:"subjectId" bson:"subject_id"`
	Status          string                 `json:"status" bson:"status"`
	CompletedAt     time.Time              `json:"completedAt" bson:"completed_at"`
	AffectedRecords int                    `json:"affectedRecords" bson:"affected_records"`
	Data            map[string]interface{} `json:"data,omitempty" bson:"data,omitempty"`
}

// ParseRequestKind accepts the kind names case-insensitively.
func ParseRequestKind(s string) (RequestKind, error) {
	kind := RequestKind(strings.ToUpper(strings.TrimSpace(s)))
	switch kind {
	case RequestAccess, RequestRectification, RequestErasure, RequestPortability:
		return kind, nil
	}
	return "", apperrors.ErrValidation.WithMessage(fmt.Sprintf("unknown data subject request kind %q", s))
}

// RecordSubjectData attributes a processed payload to its subject so later
// requests can act on it. Cardholder fields are never stored.
func (e *Engine) RecordSubjectData(ctx context.Context, record SubjectRecord) error {
	if record.SubjectID == "" {
		return apperrors.ErrValidation.WithMessage("subject id is required")
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = e.now().UTC()
	}
	payload := stripCardholderFields(models.NormalizeNumbers(record.Payload))
	if e.masker != nil {
		payload = e.masker(payload)
	}
	record.Payload = payload
	return e.subjects.Save(ctx, record)
}

// HandleDataSubjectRequest dispatches to the handler for kind. ACCESS and
// PORTABILITY return the exported data; RECTIFICATION applies details as
// field updates.
func (e *Engine) HandleDataSubjectRequest(ctx context.Context, kind RequestKind, subjectID string, details map[string]interface{}) (RequestResult, error) {
	if subjectID == "" {
		return RequestResult{}, apperrors.ErrValidation.WithMessage("subject id is required")
	}

	result := RequestResult{
		RequestID: newID(),
		Kind:      kind,
		SubjectID: subjectID,
	}

	var err error
	switch kind {
	case RequestAccess:
		err = e.handleAccess(ctx, &result)
	case RequestPortability:
		err = e.handlePortability(ctx, &result)
	case RequestRectification:
		err = e.handleRectification(ctx, &result, details)
	case RequestErasure:
		err = e.handleErasure(ctx, &result)
	default:
		return RequestResult{}, apperrors.ErrValidation.WithMessage(fmt.Sprintf("unknown data subject request kind %q", kind))
	}
	if err != nil {
		e.logger.ErrorwCtx(ctx, "Data subject request failed",
			"request_id", result.RequestID,
			"kind", kind,
			"error", err,
		)
		return RequestResult{}, err
	}

	result.Status = RequestStatusCompleted
	result.CompletedAt = e.now().UTC()

	if err := e.subjects.SaveRequest(ctx, result); err != nil {
		e.logger.WarnwCtx(ctx, "Failed to persist data subject request",
			"request_id", result.RequestID,
			"error", err,
		)
	}

	e.sink.RecordSecurity(ctx, audit.SecurityEvent{
		Timestamp:   result.CompletedAt,
		Type:        audit.SecurityDataSubjectRequest,
		Severity:    audit.SeverityMedium,
		Component:   constants.ComponentCompliance,
		Description: fmt.Sprintf("%s request completed", kind),
		Details: map[string]interface{}{
			"requestId":       result.RequestID,
			"kind":            string(kind),
			"affectedRecords": result.AffectedRecords,
		},
	})

	e.logger.InfowCtx(ctx, "Data subject request completed",
		"request_id", result.RequestID,
		"kind", kind,
		"affected_records", result.AffectedRecords,
	)

	return result, nil
}

func (e *Engine) handleAccess(ctx context.Context, result *RequestResult) error {
	records, err := e.subjects.Find(ctx, result.SubjectID)
	if err != nil {
		return err
	}
	result.AffectedRecords = len(records)
	result.Data = map[string]interface{}{
		"subjectId": result.SubjectID,
		"records":   records,
	}
	return nil
}

func (e *Engine) handlePortability(ctx context.Context, result *RequestResult) error {
	records, err := e.subjects.Find(ctx, result.SubjectID)
	if err != nil {
		return err
	}
	result.AffectedRecords = len(records)
	result.Data = map[string]interface{}{
		"subjectId":  result.SubjectID,
		"format":     "application/json",
		"exportedAt": e.now().UTC(),
		"records":    records,
	}
	return nil
}

func (e *Engine) handleRectification(ctx context.Context, result *RequestResult, details map[string]interface{}) error {
	fields := stripCardholderFields(models.NormalizeNumbers(details))
	if len(fields) == 0 {
		return apperrors.ErrValidation.WithMessage("rectification requires at least one non-cardholder field")
	}
	n, err := e.subjects.Rectify(ctx, result.SubjectID, fields)
	if err != nil {
		return err
	}
	result.AffectedRecords = n
	return nil
}

func (e *Engine) handleErasure(ctx context.Context, result *RequestResult) error {
	n, err := e.subjects.Erase(ctx, result.SubjectID)
	if err != nil {
		return err
	}
	result.AffectedRecords = n
	return nil
}
