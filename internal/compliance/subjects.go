package compliance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SubjectRecord is one processed payload attributed to a data subject.
type SubjectRecord struct {
	SubjectID  string                 `json:"subjectId" bson:"subject_id"`
	MessageID  string                 `json:"messageId" bson:"message_id"`
	Topic      string                 `json:"topic" bson:"topic"`
	EventType  string                 `json:"eventType" bson:"event_type"`
	RecordedAt time.Time              `json:"recordedAt" bson:"recorded_at"`
	Payload    map[string]interface{} `json:"payload" bson:"payload"`
}

// SubjectStore holds the per-subject data that data-subject requests act on.
type SubjectStore interface {
	Save(ctx context.Context, record SubjectRecord) error
	Find(ctx context.Context, subjectID string) ([]SubjectRecord, error)
	Rectify(ctx context.Context, subjectID string, fields map[string]interface{}) (int, error)
	Erase(ctx context.Context, subjectID string) (int, error)
	SaveRequest(ctx context.Context, result RequestResult) error
}

type MemorySubjectStore struct {
	mu       sync.RWMutex
	records  map[string][]SubjectRecord
	requests []RequestResult
}

func NewMemorySubjectStore() *MemorySubjectStore {
	return &MemorySubjectStore{records: make(map[string][]SubjectRecord)}
}

// Save replaces an existing record with the same message id.
func (s *MemorySubjectStore) Save(_ context.Context, record SubjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records[record.SubjectID]
	for i, r := range records {
		if r.MessageID == record.MessageID {
			records[i] = record
			return nil
		}
	}
	s.records[record.SubjectID] = append(records, record)
	return nil
}

func (s *MemorySubjectStore) Find(_ context.Context, subjectID string) ([]SubjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]SubjectRecord, 0, len(s.records[subjectID]))
	for _, r := range s.records[subjectID] {
		records = append(records, copyRecord(r))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].RecordedAt.After(records[j].RecordedAt)
	})
	return records, nil
}

func (s *MemorySubjectStore) Rectify(_ context.Context, subjectID string, fields map[string]interface{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records[subjectID]
	for i := range records {
		payload := make(map[string]interface{}, len(records[i].Payload)+len(fields))
		for k, v := range records[i].Payload {
			payload[k] = v
		}
		for k, v := range fields {
			payload[k] = v
		}
		records[i].Payload = payload
	}
	return len(records), nil
}

func (s *MemorySubjectStore) Erase(_ context.Context, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records[subjectID])
	delete(s.records, subjectID)
	return n, nil
}

func (s *MemorySubjectStore) SaveRequest(_ context.Context, result RequestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result.Data = nil
	s.requests = append(s.requests, result)
	return nil
}

// Requests returns the request history without exported data.
func (s *MemorySubjectStore) Requests() []RequestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RequestResult(nil), s.requests...)
}

func copyRecord(r SubjectRecord) SubjectRecord {
	payload := make(map[string]interface{}, len(r.Payload))
	for k, v := range r.Payload {
		payload[k] = v
	}
	r.Payload = payload
	return r
}
