package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-crawler/internal/config"
)

type fakeApp struct {
	runErr error
	ran    bool
	closed bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return f.runErr
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func useFakeApp(t *testing.T, app *fakeApp, gotCfg *config.Config) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		if gotCfg != nil {
			*gotCfg = cfg
		}
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func useMemoryProviders(t *testing.T) {
	t.Helper()
	t.Setenv("CRAWLER_QUEUE_PROVIDER", config.ProviderMemory)
	t.Setenv("CRAWLER_STATUS_PROVIDER", config.ProviderMemory)
	t.Setenv("CRAWLER_STORAGE_PROVIDER", config.ProviderMemory)
}

func execute(args ...string) error {
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{}, args...))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestRootRunsAndClosesApp(t *testing.T) {
	app := &fakeApp{}
	var cfg config.Config
	useFakeApp(t, app, &cfg)
	useMemoryProviders(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawler:\n  archive_workers: 5\n"), 0o600))

	require.NoError(t, execute("--config", path))
	require.True(t, app.ran)
	require.True(t, app.closed)
	require.Equal(t, 5, cfg.Crawler.ArchiveWorkers)
}

func TestRootReturnsRunError(t *testing.T) {
	app := &fakeApp{runErr: errors.New("queue gone")}
	useFakeApp(t, app, nil)
	useMemoryProviders(t)

	err := execute()
	require.ErrorContains(t, err, "queue gone")
	require.True(t, app.closed)
}

func TestRootFailsOnInvalidConfig(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app, nil)
	t.Setenv("CRAWLER_QUEUE_PROVIDER", "kafka")

	err := execute()
	require.ErrorContains(t, err, "unknown queue.provider")
	require.False(t, app.ran)
}

func TestRootFailsOnMissingConfigFile(t *testing.T) {
	useFakeApp(t, &fakeApp{}, nil)
	require.Error(t, execute("--config", filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestRootRejectsArgs(t *testing.T) {
	useFakeApp(t, &fakeApp{}, nil)
	require.Error(t, execute("extra"))
}

func TestRunExitsNonZeroWithoutBackends(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app, nil)
	for _, key := range []string{"CRAWLER_QUEUE_PROVIDER", "CRAWLER_STATUS_PROVIDER", "CRAWLER_STORAGE_PROVIDER"} {
		t.Setenv(key, "")
	}

	var stderr bytes.Buffer
	require.Equal(t, 1, run(context.Background(), []string{}, &stderr))
	require.Contains(t, stderr.String(), "queue.provider must be set")
	require.False(t, app.ran)
}

func TestRunExitsZeroOnCleanRun(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app, nil)
	useMemoryProviders(t)

	var stderr bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{}, &stderr))
	require.Empty(t, stderr.String())
	require.True(t, app.closed)
}
