package dlq_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanlab/specimen-stack/common/dlq"
	"github.com/oceanlab/specimen-stack/common/messaging"
	"github.com/oceanlab/specimen-stack/common/messaging/memory"
)

func letter(reason, data string) messaging.DeadLetter {
	return messaging.DeadLetter{
		Timestamp: time.Now().UTC(),
		Queue:     "morphometrics-in",
		Reason:    reason,
		Error:     "decode payload: illegal base64 data",
		Attempt:   1,
		Data:      []byte(data),
	}
}

func TestMemory_WriteListStats(t *testing.T) {
	ctx := context.Background()
	q := dlq.NewMemory()

	require.NoError(t, q.Write(ctx, letter("malformed", `{"specimenId":"spec-2"}`)))
	require.NoError(t, q.Write(ctx, letter("malformed", `{}`)))

	letters, err := q.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	assert.Equal(t, `{"specimenId":"spec-2"}`, string(letters[0].Data))

	limited, err := q.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Enabled)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, uint64(2), stats.Messages)
	assert.Equal(t, uint64(2), stats.ByReason["malformed"])
}

func TestMemory_Purge(t *testing.T) {
	ctx := context.Background()
	q := dlq.NewMemory()
	require.NoError(t, q.Write(ctx, letter("malformed", "x")))
	require.NoError(t, q.Purge(ctx))

	letters, err := q.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, letters)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Messages)
	assert.Equal(t, uint64(1), stats.Written)
}

func TestForConn_FallsBackWithoutJetStream(t *testing.T) {
	broker := memory.NewBroker()
	conn, err := broker.Dial(context.Background())
	require.NoError(t, err)

	fallback := dlq.NewMemory()
	w, err := dlq.ForConn(dlq.DefaultStreamConfig(), fallback)(context.Background(), conn)
	require.NoError(t, err)
	assert.Same(t, fallback, w)
}

func TestSettlerWritesToMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := dlq.NewMemory()
	s := &messaging.Settler{DeadLetters: q}

	broker := memory.NewBroker()
	conn, err := broker.Dial(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.DeclareDurableQueue(ctx, "morphometrics-in"))
	require.NoError(t, conn.Publish(ctx, "morphometrics-in", []byte("not json")))

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = conn.Consume(cctx, "morphometrics-in", 1, func(ctx context.Context, d messaging.Delivery) error {
			_, err := s.Settle(ctx, d, errMalformed)
			return err
		})
	}()

	assert.Eventually(t, func() bool {
		letters, _ := q.List(ctx, 10)
		return len(letters) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, broker.Rejected("morphometrics-in"), 1)
}
