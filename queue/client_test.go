package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/aggregator/finding"
)

// setupTestClient creates a miniredis instance and returns a connected RedisClient.
func setupTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return client, mr
}

func testFinding(uri string) *finding.Finding {
	return finding.NewFinding(
		"cross_domain_js",
		"cross_domain_js",
		"Cross-domain javascript source",
		"The URL "+uri+" includes javascript from foo.com",
		finding.SeverityLow,
		finding.NewLocation("GET", uri),
		finding.WithIDs(3),
		finding.WithAttribute("domain", finding.String("foo.com")),
	)
}

func TestNewRedisClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)

		client, err := NewRedisClient(RedisOptions{
			URL: fmt.Sprintf("redis://%s", mr.Addr()),
		})
		require.NoError(t, err)
		require.NotNil(t, client)
		defer client.Close()
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisClient(RedisOptions{
			URL:            "redis://localhost:99999",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisClient(RedisOptions{
			URL: "invalid://url",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestPushPop(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		f := testFinding("https://target/a")
		require.NoError(t, client.Push(ctx, "findings", f))

		n, err := client.Len(ctx, "findings")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		msg, err := client.Pop(ctx, "findings", time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		require.NoError(t, msg.IsValid())

		assert.Equal(t, f.UniqueID, msg.Finding.UniqueID)
		assert.Equal(t, f.Location, msg.Finding.Location)
		assert.Equal(t, []int{3}, msg.Finding.IDs)
		domain, ok := msg.Finding.Attribute("domain")
		require.True(t, ok)
		assert.Equal(t, "foo.com", domain.Str)
		assert.Empty(t, msg.TraceID)

		n, err = client.Len(ctx, "findings")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("FIFO order", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, client.Push(ctx, "findings", testFinding(fmt.Sprintf("https://target/%d", i))))
		}
		for i := 0; i < 3; i++ {
			msg, err := client.Pop(ctx, "findings", time.Second)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, fmt.Sprintf("https://target/%d", i), msg.Finding.Location.URI)
		}
	})

	t.Run("timeout returns nil", func(t *testing.T) {
		client, _ := setupTestClient(t)

		msg, err := client.Pop(context.Background(), "empty", 100*time.Millisecond)
		require.NoError(t, err)
		assert.Nil(t, msg)
	})

	t.Run("pop from empty queue returns on data", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		resultChan := make(chan *Message, 1)
		errChan := make(chan error, 1)

		go func() {
			msg, err := client.Pop(ctx, "delayed", 0)
			if err != nil {
				errChan <- err
				return
			}
			resultChan <- msg
		}()

		// Give it a moment to start blocking
		time.Sleep(100 * time.Millisecond)

		require.NoError(t, client.Push(ctx, "delayed", testFinding("https://target/late")))

		select {
		case msg := <-resultChan:
			require.NotNil(t, msg)
			assert.Equal(t, "https://target/late", msg.Finding.Location.URI)
		case err := <-errChan:
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(2 * time.Second):
			t.Fatal("Pop did not return after a finding was pushed")
		}
	})

	t.Run("push nil finding", func(t *testing.T) {
		client, _ := setupTestClient(t)
		err := client.Push(context.Background(), "findings", nil)
		require.Error(t, err)
	})

	t.Run("malformed payload", func(t *testing.T) {
		client, mr := setupTestClient(t)
		_, err := mr.Lpush("findings", "{not json")
		require.NoError(t, err)

		_, err = client.Pop(context.Background(), "findings", time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal message")
	})

	t.Run("trace context travels with the message", func(t *testing.T) {
		client, _ := setupTestClient(t)

		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		})
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		require.NoError(t, client.Push(ctx, "findings", testFinding("https://target/t")))
		msg, err := client.Pop(context.Background(), "findings", time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, traceID.String(), msg.TraceID)
		assert.Equal(t, spanID.String(), msg.SpanID)
	})
}

func TestConnectWrapsExistingClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := Connect(RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
	require.NoError(t, err)

	client := NewClient(rdb)
	defer client.Close()

	require.NoError(t, client.Push(context.Background(), "q", testFinding("https://target/")))
	n, err := client.Len(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPing(t *testing.T) {
	client, mr := setupTestClient(t)

	require.NoError(t, client.Ping(context.Background()))

	mr.SetError("LOADING Redis is loading the dataset in memory")
	defer mr.SetError("")
	assert.Error(t, client.Ping(context.Background()))
}
