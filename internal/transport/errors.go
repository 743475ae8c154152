package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/segmentio/kafka-go"

	apperrors "securebus/pkg/errors"
)

// Classify maps a raw transport failure onto the fixed retryable vocabulary:
// network exception, request timeout, not enough replicas and broker not
// available. Anything else is returned as a fatal internal error. Errors that
// are already classified pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e == nil {
				continue
			}
			var classified *apperrors.Error
			if errors.As(Classify(e), &classified) {
				return classified.WithCause(err)
			}
		}
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafka.NetworkException:
			return apperrors.ErrNetworkException.WithCause(err)
		case kafka.RequestTimedOut:
			return apperrors.ErrRequestTimeout.WithCause(err)
		case kafka.NotEnoughReplicas, kafka.NotEnoughReplicasAfterAppend:
			return apperrors.ErrNotEnoughReplicas.WithCause(err)
		case kafka.BrokerNotAvailable, kafka.LeaderNotAvailable, kafka.NotLeaderForPartition:
			return apperrors.ErrBrokerNotAvailable.WithCause(err)
		default:
			return apperrors.ErrInternal.WithCause(err).AsFatal()
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrRequestTimeout.WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.ErrRequestTimeout.WithCause(err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return apperrors.ErrNetworkException.WithCause(err)
	}

	return apperrors.ErrInternal.WithCause(err).AsFatal()
}
