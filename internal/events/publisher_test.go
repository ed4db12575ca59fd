package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelPublisherDropsOnFullInbox(t *testing.T) {
	publisher := NewChannelPublisher(2)
	ctx := context.Background()

	for range 5 {
		require.NoError(t, publisher.Emit(ctx, Event{Type: TypeDonorVerified}))
	}
	assert.Len(t, publisher.Inbox(), 2, "overflow is dropped, never blocking the emitter")
}

func TestWorkerDrainsInboxToSink(t *testing.T) {
	publisher := NewChannelPublisher(8)
	sink := NewMemorySink()
	worker := NewWorker(sink, publisher.Inbox())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	require.NoError(t, publisher.Emit(ctx, Event{Type: TypeMatchApproved, MatchID: "m1"}))
	require.NoError(t, publisher.Emit(ctx, Event{Type: TypeMatchRejected, MatchID: "m2"}))

	require.Eventually(t, func() bool {
		return len(sink.Events()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	recorded := sink.Events()
	assert.Equal(t, TypeMatchApproved, recorded[0].Type)
	assert.Equal(t, TypeMatchRejected, recorded[1].Type)
	assert.False(t, recorded[0].Timestamp.IsZero(), "emit stamps the event time")
}
