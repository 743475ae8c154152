package consumer

import (
	"container/list"
	"strconv"
	"sync"
	"time"
)

// Failure kinds recorded on dead-letter entries.
const (
	KindParse      = "parse"
	KindIntegrity  = "integrity"
	KindCompliance = "compliance"
	KindNoHandler  = "no_handler"
	KindHandler    = "handler"
	KindPanic      = "panic"
)

// DeadLetterMessage is created on a processing failure, mutated in place on
// each retry and removed once reprocessing succeeds. ID names the record's
// log position; MessageID is whatever the record claimed and may repeat.
type DeadLetterMessage struct {
	ID            string            `json:"id"`
	MessageID     string            `json:"messageId"`
	Topic         string            `json:"topic"`
	Partition     int               `json:"partition"`
	Offset        int64             `json:"offset"`
	RawRecord     []byte            `json:"rawRecord"`
	Headers       map[string]string `json:"headers,omitempty"`
	Kind          string            `json:"kind"`
	Error         string            `json:"error"`
	FirstFailedAt time.Time         `json:"firstFailedAt"`
	RetryCount    int               `json:"retryCount"`
	LastRetryAt   time.Time         `json:"lastRetryAt,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
}

func deadLetterID(topic string, partition int, offset int64) string {
	return topic + ":" + strconv.Itoa(partition) + ":" + strconv.FormatInt(offset, 10)
}

// deadLetterStore is a bounded FIFO keyed by log position. Adding beyond
// capacity evicts the oldest entry.
type deadLetterStore struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newDeadLetterStore(capacity int) *deadLetterStore {
	return &deadLetterStore{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

type addResult struct {
	replaced *DeadLetterMessage
	evicted  *DeadLetterMessage
	size     int
}

// add appends msg. A redelivery of the same position replaces the existing
// entry in place and keeps its first failure time and retry count.
func (s *deadLetterStore) add(msg *DeadLetterMessage) addResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = deadLetterID(msg.Topic, msg.Partition, msg.Offset)
	}

	if el, ok := s.index[msg.ID]; ok {
		prev := *el.Value.(*DeadLetterMessage)
		msg.FirstFailedAt = prev.FirstFailedAt
		msg.RetryCount = prev.RetryCount
		msg.LastRetryAt = prev.LastRetryAt
		msg.LastError = prev.LastError
		el.Value = msg
		return addResult{replaced: &prev, size: s.order.Len()}
	}

	var res addResult
	if s.order.Len() >= s.capacity {
		front := s.order.Front()
		res.evicted = front.Value.(*DeadLetterMessage)
		s.order.Remove(front)
		delete(s.index, res.evicted.ID)
	}

	s.index[msg.ID] = s.order.PushBack(msg)
	res.size = s.order.Len()
	return res
}

// lookup resolves id as an entry id first, then as the message id of the
// oldest entry carrying it. Callers hold s.mu.
func (s *deadLetterStore) lookup(id string) (*list.Element, bool) {
	if el, ok := s.index[id]; ok {
		return el, true
	}
	for el := s.order.Front(); el != nil; el = el.Next() {
		if el.Value.(*DeadLetterMessage).MessageID == id {
			return el, true
		}
	}
	return nil, false
}

func (s *deadLetterStore) get(id string) (DeadLetterMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.lookup(id)
	if !ok {
		return DeadLetterMessage{}, false
	}
	return *el.Value.(*DeadLetterMessage), true
}

func (s *deadLetterStore) countMessageID(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for el := s.order.Front(); el != nil; el = el.Next() {
		if el.Value.(*DeadLetterMessage).MessageID == messageID {
			n++
		}
	}
	return n
}

// recordRetry and remove take the entry id returned by get.
func (s *deadLetterStore) recordRetry(id string, at time.Time, err error) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[id]
	if !ok {
		return 0, false
	}
	msg := el.Value.(*DeadLetterMessage)
	msg.RetryCount++
	msg.LastRetryAt = at
	msg.LastError = err.Error()
	return msg.RetryCount, true
}

func (s *deadLetterStore) remove(id string) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[id]
	if ok {
		s.order.Remove(el)
		delete(s.index, id)
	}
	return ok, s.order.Len()
}

// list returns copies, oldest first.
func (s *deadLetterStore) list() []DeadLetterMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeadLetterMessage, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*DeadLetterMessage))
	}
	return out
}

func (s *deadLetterStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
