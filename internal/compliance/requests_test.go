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

func seedSubject(t *testing.T, engine *Engine) {
	t.Helper()
	ctx := context.Background()
	for i, id := range []string{"m-1", "m-2"} {
		require.NoError(t, engine.RecordSubjectData(ctx, SubjectRecord{
			SubjectID:  "user-42",
			MessageID:  id,
			Topic:      "user-registration",
			EventType:  "user.registered",
			RecordedAt: fixedNow.Add(time.Duration(i) * time.Minute),
			Payload:    map[string]interface{}{"email": "old@example.com"},
		}))
	}
}

func TestHandleDataSubjectRequests(t *testing.T) {
	store := NewMemorySubjectStore()
	sink := audit.NewMemorySink()
	engine := NewEngine(sink, logger.NopLogger(),
		WithSubjectStore(store),
		WithClock(func() time.Time { return fixedNow }),
	)
	seedSubject(t, engine)
	ctx := context.Background()

	access, err := engine.HandleDataSubjectRequest(ctx, RequestAccess, "user-42", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, access.RequestID)
	assert.Equal(t, RequestStatusCompleted, access.Status)
	assert.Equal(t, fixedNow, access.CompletedAt)
	assert.Equal(t, 2, access.AffectedRecords)
	records := access.Data["records"].([]SubjectRecord)
	require.Len(t, records, 2)
	assert.Equal(t, "m-2", records[0].MessageID)

	rect, err := engine.HandleDataSubjectRequest(ctx, RequestRectification, "user-42", map[string]interface{}{"email": "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, rect.AffectedRecords)
	assert.Nil(t, rect.Data)

	export, err := engine.HandleDataSubjectRequest(ctx, RequestPortability, "user-42", nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", export.Data["format"])
	for _, r := range export.Data["records"].([]SubjectRecord) {
		assert.Equal(t, "new@example.com", r.Payload["email"])
	}

	erase, err := engine.HandleDataSubjectRequest(ctx, RequestErasure, "user-42", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, erase.AffectedRecords)

	after, err := engine.HandleDataSubjectRequest(ctx, RequestAccess, "user-42", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, after.AffectedRecords)

	requests := store.Requests()
	require.Len(t, requests, 5)
	for _, r := range requests {
		assert.Nil(t, r.Data)
	}
	assert.Len(t, sink.SecurityEventsOfType(audit.SecurityDataSubjectRequest), 5)

	ids := map[string]struct{}{}
	for _, r := range requests {
		ids[r.RequestID] = struct{}{}
	}
	assert.Len(t, ids, 5)
}

func TestHandleDataSubjectRequestValidation(t *testing.T) {
	engine := NewEngine(audit.NewMemorySink(), logger.NopLogger())
	ctx := context.Background()

	_, err := engine.HandleDataSubjectRequest(ctx, RequestAccess, "", nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = engine.HandleDataSubjectRequest(ctx, RequestKind("FORGET"), "user-1", nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = engine.HandleDataSubjectRequest(ctx, RequestRectification, "user-1", nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestParseRequestKind(t *testing.T) {
	kind, err := ParseRequestKind(" erasure ")
	require.NoError(t, err)
	assert.Equal(t, RequestErasure, kind)

	_, err = ParseRequestKind("delete")
	assert.Error(t, err)
}

func TestMemorySubjectStoreSaveReplaces(t *testing.T) {
	store := NewMemorySubjectStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, SubjectRecord{SubjectID: "s", MessageID: "m", Payload: map[string]interface{}{"v": 1}}))
	require.NoError(t, store.Save(ctx, SubjectRecord{SubjectID: "s", MessageID: "m", Payload: map[string]interface{}{"v": 2}}))

	records, err := store.Find(ctx, "s")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Payload["v"])

	records[0].Payload["v"] = 3
	again, _ := store.Find(ctx, "s")
	assert.Equal(t, 2, again[0].Payload["v"])
}

func TestSubjectStoreNeverHoldsCardholderData(t *testing.T) {
	store := NewMemorySubjectStore()
	var masked []string
	engine := NewEngine(audit.NewMemorySink(), logger.NopLogger(),
		WithSubjectStore(store),
		WithClock(func() time.Time { return fixedNow }),
		WithSubjectMasker(func(payload map[string]interface{}) map[string]interface{} {
			out := make(map[string]interface{}, len(payload))
			for k, v := range payload {
				if k == "email" {
					masked = append(masked, k)
					v = "masked"
				}
				out[k] = v
			}
			return out
		}),
	)
	ctx := context.Background()

	require.NoError(t, engine.RecordSubjectData(ctx, SubjectRecord{
		SubjectID: "user-42",
		MessageID: "m-1",
		Topic:     "payment-completion",
		Payload: map[string]interface{}{
			"amount":     100,
			"email":      "a@example.com",
			"cardNumber": "4111111111111111",
			"cvv":        "123",
			"card":       map[string]interface{}{"PAN": "4111111111111111", "brand": "visa"},
		},
	}))

	access, err := engine.HandleDataSubjectRequest(ctx, RequestAccess, "user-42", nil)
	require.NoError(t, err)
	records := access.Data["records"].([]SubjectRecord)
	require.Len(t, records, 1)

	payload := records[0].Payload
	assert.NotContains(t, payload, "cardNumber")
	assert.NotContains(t, payload, "cvv")
	assert.Equal(t, map[string]interface{}{"brand": "visa"}, payload["card"])
	assert.Equal(t, 100, payload["amount"])
	assert.Equal(t, "masked", payload["email"])
	assert.Equal(t, []string{"email"}, masked)

	_, err = engine.HandleDataSubjectRequest(ctx, RequestRectification, "user-42", map[string]interface{}{"cvv": "999"})
	assert.True(t, apperrors.IsValidation(err))
}
