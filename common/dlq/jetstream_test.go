package dlq_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/oceanlab/specimen-stack/common/dlq"
	"github.com/oceanlab/specimen-stack/common/logging"
	natsmsg "github.com/oceanlab/specimen-stack/common/messaging/nats"
)

func setupJetStream(t *testing.T) *natsmsg.Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping JetStream integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)

	cfg := natsmsg.DefaultConfig()
	cfg.URL = url
	cfg.Logger = logging.Discard()
	conn, err := natsmsg.Dial(ctx, cfg, natsmsg.DefaultQueueConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestJetStreamQueue(t *testing.T) {
	conn := setupJetStream(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w, err := dlq.ForConn(dlq.DefaultStreamConfig(), nil)(ctx, conn)
	require.NoError(t, err)
	q, ok := w.(*dlq.JetStreamQueue)
	require.True(t, ok)

	require.NoError(t, q.Write(ctx, letter("malformed", "not-base64!!")))
	require.NoError(t, q.Write(ctx, letter("malformed", "{")))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Messages)
	assert.Equal(t, uint64(2), stats.ByReason["malformed"])
	assert.Equal(t, uint64(2), stats.Written)

	letters, err := q.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	assert.Equal(t, "not-base64!!", string(letters[0].Data))

	require.NoError(t, q.Purge(ctx))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Messages)
}

func TestJetStreamQueue_RepeatedWriteIsDeduplicated(t *testing.T) {
	conn := setupJetStream(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q, err := dlq.NewJetStreamQueue(ctx, conn.JetStream(), dlq.DefaultStreamConfig())
	require.NoError(t, err)

	dl := letter("malformed", "not-base64!!")
	dl.MessageID = "9b2c4e1a"
	require.NoError(t, q.Write(ctx, dl))
	dl.Attempt = 2
	require.NoError(t, q.Write(ctx, dl))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Messages)
	assert.Equal(t, uint64(1), stats.Written)
}
