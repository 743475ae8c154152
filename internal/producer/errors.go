package producer

import "fmt"

// PublishError is returned when a send could not be delivered inline. Queued
// reports whether the message was handed to the background retry queue.
type PublishError struct {
	MessageID string
	Topic     string
	Attempts  int
	Queued    bool
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s to %s failed after %d attempts (queued=%t): %v",
		e.MessageID, e.Topic, e.Attempts, e.Queued, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
