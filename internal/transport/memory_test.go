package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "securebus/pkg/errors"
)

func TestMemoryPublisher_RequiresConnect(t *testing.T) {
	p := NewMemoryPublisher(NewMemoryBroker())

	_, err := p.Publish(context.Background(), OutboundMessage{Topic: "t"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestMemoryPublisher_AssignsOffsets(t *testing.T) {
	broker := NewMemoryBroker()
	p := NewMemoryPublisher(broker)
	require.NoError(t, p.Connect(context.Background()))

	for i := 0; i < 3; i++ {
		receipt, err := p.Publish(context.Background(), OutboundMessage{
			Topic:   "payments",
			Key:     "k",
			Value:   []byte(`{}`),
			Headers: map[string]string{"messageId": "m"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), receipt.Offset)
		assert.Equal(t, 0, receipt.Partition)
	}

	records := broker.Records("payments")
	require.Len(t, records, 3)
	assert.Equal(t, "m", records[2].Headers["messageId"])
}

func TestMemorySubscriber_DeliversInOrderAndCommits(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()
	pub := NewMemoryPublisher(broker)
	sub := NewMemorySubscriber(broker)
	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, sub.Connect(ctx))

	_, err := pub.Publish(ctx, OutboundMessage{Topic: "a", Value: []byte("0")})
	require.NoError(t, err)

	require.NoError(t, sub.Subscribe(ctx, []string{"a"}, true))

	var mu sync.Mutex
	var got []string
	received := make(chan struct{}, 10)

	runErr := make(chan error, 1)
	go func() {
		runErr <- sub.Run(ctx, RunConfig{AutoCommit: true}, func(_ context.Context, rec Record) error {
			mu.Lock()
			got = append(got, string(rec.Value))
			mu.Unlock()
			received <- struct{}{}
			return nil
		})
	}()

	for i := 1; i < 3; i++ {
		_, err := pub.Publish(ctx, OutboundMessage{Topic: "a", Value: []byte{byte('0' + i)}})
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for record")
		}
	}

	sub.Stop()
	require.NoError(t, <-runErr)

	mu.Lock()
	assert.Equal(t, []string{"0", "1", "2"}, got)
	mu.Unlock()

	committed, ok := sub.Committed("a")
	require.True(t, ok)
	assert.Equal(t, int64(3), committed)
}

func TestMemorySubscriber_CommitsAtThreshold(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()
	pub := NewMemoryPublisher(broker)
	sub := NewMemorySubscriber(broker)
	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, sub.Connect(ctx))

	for i := 0; i < 3; i++ {
		_, err := pub.Publish(ctx, OutboundMessage{Topic: "a", Value: []byte{byte('0' + i)}})
		require.NoError(t, err)
	}
	require.NoError(t, sub.Subscribe(ctx, []string{"a"}, true))

	atThird := make(chan int64, 1)
	release := make(chan struct{})
	runErr := make(chan error, 1)
	go func() {
		runErr <- sub.Run(ctx, RunConfig{AutoCommit: true, CommitThreshold: 2, CommitInterval: time.Hour}, func(_ context.Context, rec Record) error {
			if rec.Offset == 2 {
				committed, _ := sub.Committed("a")
				atThird <- committed
				<-release
			}
			return nil
		})
	}()

	select {
	case committed := <-atThird:
		assert.Equal(t, int64(2), committed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
	}

	close(release)

	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.positions["a"] == 3
	}, 2*time.Second, 5*time.Millisecond)
	committed, _ := sub.Committed("a")
	assert.Equal(t, int64(2), committed)

	sub.Stop()
	require.NoError(t, <-runErr)
	committed, _ = sub.Committed("a")
	assert.Equal(t, int64(3), committed)
}

func TestMemorySubscriber_CommitsOnInterval(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()
	pub := NewMemoryPublisher(broker)
	sub := NewMemorySubscriber(broker)
	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, sub.Connect(ctx))

	_, err := pub.Publish(ctx, OutboundMessage{Topic: "a", Value: []byte("0")})
	require.NoError(t, err)
	require.NoError(t, sub.Subscribe(ctx, []string{"a"}, true))

	go func() {
		_ = sub.Run(ctx, RunConfig{AutoCommit: true, CommitThreshold: 100, CommitInterval: 10 * time.Millisecond}, func(context.Context, Record) error {
			return nil
		})
	}()
	t.Cleanup(sub.Stop)

	require.Eventually(t, func() bool {
		committed, ok := sub.Committed("a")
		return ok && committed == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMemorySubscriber_FromLatest(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()
	pub := NewMemoryPublisher(broker)
	sub := NewMemorySubscriber(broker)
	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, sub.Connect(ctx))

	_, err := pub.Publish(ctx, OutboundMessage{Topic: "a", Value: []byte("old")})
	require.NoError(t, err)
	require.NoError(t, sub.Subscribe(ctx, []string{"a"}, false))

	received := make(chan string, 1)
	go func() {
		_ = sub.Run(ctx, RunConfig{}, func(_ context.Context, rec Record) error {
			received <- string(rec.Value)
			return nil
		})
	}()

	_, err = pub.Publish(ctx, OutboundMessage{Topic: "a", Value: []byte("new")})
	require.NoError(t, err)

	select {
	case v := <-received:
		assert.Equal(t, "new", v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
	}
	sub.Stop()
}

func TestMemorySubscriber_HandlerErrorEndsRun(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()
	pub := NewMemoryPublisher(broker)
	sub := NewMemorySubscriber(broker)
	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, sub.Connect(ctx))
	require.NoError(t, sub.Subscribe(ctx, []string{"a"}, true))

	_, err := pub.Publish(ctx, OutboundMessage{Topic: "a", Value: []byte("x")})
	require.NoError(t, err)

	err = sub.Run(ctx, RunConfig{}, func(context.Context, Record) error {
		return apperrors.ErrInternal
	})
	assert.ErrorIs(t, err, apperrors.ErrInternal)
}

func TestMemorySubscriber_RunWithoutSubscription(t *testing.T) {
	sub := NewMemorySubscriber(NewMemoryBroker())
	require.NoError(t, sub.Connect(context.Background()))

	err := sub.Run(context.Background(), RunConfig{}, func(context.Context, Record) error { return nil })
	assert.True(t, apperrors.IsConnectionState(err))
}
