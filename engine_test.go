package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/aggregator/class"
	"github.com/zero-day-ai/aggregator/config"
	"github.com/zero-day-ai/aggregator/finding"
	"github.com/zero-day-ai/aggregator/queue"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var testClasses = []class.Class{
	{
		Name:        "cross_domain_js",
		GroupingKey: "domain",
		Template:    "The application includes javascript from {{.domain}} on {{length .urls}} pages.",
	},
	{Name: "xpath", GroupingKey: "parameter"},
}

func jsFinding(domain, uri string, severity finding.Severity) *finding.Finding {
	return finding.NewFinding(
		"dom_xss",
		"cross_domain_js",
		"Cross-domain javascript source",
		"The page "+uri+" includes javascript from "+domain,
		severity,
		finding.NewLocation("GET", uri),
		finding.WithAttribute("domain", finding.String(domain)),
	)
}

func shutdown(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func TestNewEngine_Defaults(t *testing.T) {
	e, err := NewEngine(WithLogger(discard), WithRegistry(class.MustRegistry(testClasses...)))
	require.NoError(t, err)
	defer shutdown(t, e)

	assert.NotEmpty(t, e.Store().Session())
	assert.Equal(t, 2, e.Registry().Len())
	assert.Equal(t, config.BackendNone, e.Config().Storage.GetBackend())
	require.NoError(t, e.Flush(context.Background()), "flush without a backend is a no-op")
}

func TestNewEngine_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classes.yaml"), []byte(`
classes:
  - name: xpath
    grouping_key: parameter
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aggregator.yaml"), []byte(`
session: scan-42
classes_file: classes.yaml
classes:
  - name: cross_domain_js
    grouping_key: domain
logging:
  level: debug
  format: text
`), 0o644))

	e, err := NewEngine(WithConfig(dir), WithLogger(discard))
	require.NoError(t, err)
	defer shutdown(t, e)

	assert.Equal(t, "scan-42", e.Store().Session())
	assert.Equal(t, []string{"cross_domain_js", "xpath"}, e.Registry().Names())
}

func TestNewEngine_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{
			name: "missing config file",
			opts: []Option{WithConfig(filepath.Join(t.TempDir(), "missing.yaml"))},
		},
		{
			name: "postgres without dsn",
			opts: []Option{WithConfigValue(&config.Config{Storage: &config.StorageConfig{Backend: "postgres"}})},
		},
		{
			name: "unknown backend",
			opts: []Option{WithConfigValue(&config.Config{Storage: &config.StorageConfig{Backend: "mongodb"}})},
		},
		{
			name: "duplicate class",
			opts: []Option{WithConfigValue(&config.Config{Classes: []class.Class{
				{Name: "xpath", GroupingKey: "parameter"},
				{Name: "xpath", GroupingKey: "parameter"},
			}})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(append(tt.opts, WithLogger(discard))...)
			require.Error(t, err)

			var ferr *finding.Error
			require.True(t, errors.As(err, &ferr))
			assert.Equal(t, finding.KindConfiguration, ferr.Kind)
		})
	}
}

func TestNewEngine_Env(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGGREGATOR_SESSION=from-env-file\n"), 0o644))
	t.Setenv("AGGREGATOR_STORAGE_BACKEND", "sqlite")
	t.Setenv("AGGREGATOR_STORAGE_PATH", filepath.Join(dir, "env.db"))
	t.Cleanup(func() { os.Unsetenv("AGGREGATOR_SESSION") })

	e, err := NewEngine(
		WithLogger(discard),
		WithRegistry(class.MustRegistry(testClasses...)),
		WithEnv(envFile),
	)
	require.NoError(t, err)
	defer shutdown(t, e)

	assert.Equal(t, "from-env-file", e.Store().Session())
	assert.Equal(t, config.BackendSQLite, e.Config().Storage.GetBackend())
	assert.FileExists(t, filepath.Join(dir, "env.db"))
}

func TestEngine_ReportAndGroups(t *testing.T) {
	e, err := NewEngine(WithLogger(discard), WithRegistry(class.MustRegistry(testClasses...)))
	require.NoError(t, err)
	defer shutdown(t, e)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.Report(ctx, jsFinding("evil.com", fmt.Sprintf("https://target/%d", i), finding.SeverityHigh))
		require.NoError(t, err)
	}
	g, err := e.Report(ctx, jsFinding("cdn.net", "https://target/cdn", finding.SeverityLow))
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())

	all, err := e.Groups("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	high, err := e.Groups(`severity_rank >= 4 && count > 1`)
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, 3, high[0].Len())

	byDomain, err := e.Groups(`attributes.domain == "cdn.net"`)
	require.NoError(t, err)
	require.Len(t, byDomain, 1)
	assert.Equal(t, []string{"https://target/cdn"}, byDomain[0].URLs())

	_, err = e.Groups(`count +`)
	require.Error(t, err)
	var ferr *finding.Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, finding.KindValidation, ferr.Kind)
}

func TestEngine_StartTwice(t *testing.T) {
	e, err := NewEngine(WithLogger(discard), WithRegistry(class.MustRegistry(testClasses...)))
	require.NoError(t, err)
	defer shutdown(t, e)

	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)
}

func TestEngine_SQLiteResume(t *testing.T) {
	cfg := func() *config.Config {
		return &config.Config{
			Session: "resume-me",
			Classes: testClasses,
			Storage: &config.StorageConfig{
				Backend:       "sqlite",
				Path:          filepath.Join(t.TempDir(), "findings.db"),
				FlushInterval: "1h",
			},
		}
	}
	first := cfg()
	ctx := context.Background()

	e1, err := NewEngine(WithConfigValue(first), WithLogger(discard))
	require.NoError(t, err)
	require.NoError(t, e1.Start(ctx))
	for i := 0; i < 2; i++ {
		_, err := e1.Report(ctx, jsFinding("evil.com", fmt.Sprintf("https://target/%d", i), finding.SeverityMedium))
		require.NoError(t, err)
	}
	// the final flush runs on shutdown
	shutdown(t, e1)

	second := cfg()
	second.Storage.Path = first.Storage.Path
	e2, err := NewEngine(WithConfigValue(second), WithLogger(discard))
	require.NoError(t, err)
	defer shutdown(t, e2)
	require.NoError(t, e2.Start(ctx))

	restored := e2.Store().ListGroups("dom_xss", "cross_domain_js")
	require.Len(t, restored, 1)
	assert.Equal(t, 2, restored[0].Len())

	g, err := e2.Report(ctx, jsFinding("evil.com", "https://target/2", finding.SeverityMedium))
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.Len(t, e2.Store().ListGroups("dom_xss", "cross_domain_js"), 1, "the restored group absorbs new findings")
}

func TestEngine_QueueConsumption(t *testing.T) {
	mr := miniredis.RunT(t)
	url := fmt.Sprintf("redis://%s", mr.Addr())

	e, err := NewEngine(
		WithLogger(discard),
		WithConfigValue(&config.Config{
			Classes: testClasses,
			Redis:   &config.RedisConfig{URL: url},
			Storage: &config.StorageConfig{Backend: "redis", Compression: "none", FlushInterval: "1h"},
			Worker:  &config.WorkerConfig{Queue: "scan-findings", Concurrency: 2, PopTimeout: "1s", ShutdownTimeout: "5s"},
		}),
	)
	require.NoError(t, err)

	producer, err := queue.NewRedisClient(queue.RedisOptions{URL: url})
	require.NoError(t, err)
	defer producer.Close()

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, producer.Push(ctx, "scan-findings", jsFinding("evil.com", fmt.Sprintf("https://target/%d", i), finding.SeverityHigh)))
	}
	require.Eventually(t, func() bool {
		return e.Stats().Reported == 5
	}, 5*time.Second, 10*time.Millisecond)

	groups := e.Store().ListGroups("dom_xss", "cross_domain_js")
	require.Len(t, groups, 1)
	assert.Equal(t, 5, groups[0].Len())

	assert.True(t, e.Health(ctx).IsHealthy())

	session := e.Store().Session()
	shutdown(t, e)

	members, err := mr.Members(fmt.Sprintf("aggregator:%s:buckets", session))
	require.NoError(t, err)
	assert.Len(t, members, 1, "shutdown flushes the bucket to redis")
}

func TestEngine_Health(t *testing.T) {
	mr := miniredis.RunT(t)
	url := fmt.Sprintf("redis://%s", mr.Addr())

	e, err := NewEngine(
		WithLogger(discard),
		WithConfigValue(&config.Config{
			Classes: testClasses,
			Redis:   &config.RedisConfig{URL: url},
			Storage: &config.StorageConfig{Backend: "redis"},
			Worker:  &config.WorkerConfig{Queue: "scan-findings", MaxBacklog: 2},
		}),
	)
	require.NoError(t, err)
	defer shutdown(t, e)

	ctx := context.Background()
	status := e.Health(ctx)
	assert.True(t, status.IsHealthy(), status.Message)

	// not started, so nothing drains the queue
	producer, err := queue.NewRedisClient(queue.RedisOptions{URL: url})
	require.NoError(t, err)
	defer producer.Close()
	for i := 0; i < 3; i++ {
		require.NoError(t, producer.Push(ctx, "scan-findings", jsFinding("evil.com", fmt.Sprintf("https://target/%d", i), finding.SeverityLow)))
	}
	status = e.Health(ctx)
	assert.True(t, status.IsDegraded(), status.Message)

	mr.SetError("LOADING Redis is loading the dataset in memory")
	status = e.Health(ctx)
	assert.True(t, status.IsUnhealthy(), status.Message)
	mr.SetError("")
}

func TestEngine_HealthWithoutDependencies(t *testing.T) {
	e, err := NewEngine(WithLogger(discard), WithRegistry(class.MustRegistry(testClasses...)))
	require.NoError(t, err)
	defer shutdown(t, e)

	assert.True(t, e.Health(context.Background()).IsHealthy())
}
