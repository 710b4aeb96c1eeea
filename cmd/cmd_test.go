package cmd

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sackio/unibrowse-sub002/api/schemas"
	"github.com/sackio/unibrowse-sub002/internal/config"
	"github.com/sackio/unibrowse-sub002/internal/interaction"
	"github.com/sackio/unibrowse-sub002/internal/macro"
	"github.com/sackio/unibrowse-sub002/internal/rpc"
	"github.com/sackio/unibrowse-sub002/internal/server"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// executeCommand runs a fresh root command with args and returns its output.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// captureServe swaps the serve command's RunE for one that records the
// loaded configuration.
func captureServe(t *testing.T, root *cobra.Command) **config.Config {
	t.Helper()
	var captured *config.Config
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	serve.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig(cmd)
		captured = cfg
		return err
	}
	return &captured
}

func TestVersion(t *testing.T) {
	out, err := executeCommand(t, newRootCmd(), "version")
	require.NoError(t, err)
	assert.Equal(t, "unibrowse "+Version+"\n", out)

	out, err = executeCommand(t, newRootCmd(), "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "unibrowse version "+Version)
}

func TestConfigLoading(t *testing.T) {
	t.Run("file, environment and flags are layered", func(t *testing.T) {
		path := createTempConfig(t, `
server:
  host: 0.0.0.0
  port: 8000
rpc:
  execute_timeout: 20s
browser:
  executor: none
`)
		t.Setenv("UNIBROWSE_RPC_DEFAULT_TIMEOUT", "3s")

		root := newRootCmd()
		got := captureServe(t, root)
		_, err := executeCommand(t, root, "serve", "--config", path, "--env-file", "", "--port", "9100")
		require.NoError(t, err)

		cfg := *got
		require.NotNil(t, cfg)
		assert.Equal(t, "0.0.0.0", cfg.Server().Host)
		assert.Equal(t, 9100, cfg.Server().Port, "flag beats file")
		assert.Equal(t, 3*time.Second, cfg.RPC().DefaultTimeout, "env beats default")
		assert.Equal(t, 20*time.Second, cfg.RPC().ExecuteTimeout)
		assert.Equal(t, config.ExecutorNone, cfg.Browser().Executor)
	})

	t.Run("invalid configuration fails before running", func(t *testing.T) {
		path := createTempConfig(t, "browser:\n  executor: firefox\n")
		root := newRootCmd()
		got := captureServe(t, root)

		_, err := executeCommand(t, root, "serve", "--config", path, "--env-file", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.executor must be one of")
		assert.Nil(t, *got)
	})

	t.Run("unreadable config file", func(t *testing.T) {
		path := createTempConfig(t, "server: [unclosed")
		_, err := executeCommand(t, newRootCmd(), "serve", "--config", path, "--env-file", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})
}

func TestLoadEnvFile(t *testing.T) {
	const name = "UNIBROWSE_TEST_ENV_FILE_VALUE"
	t.Cleanup(func() { os.Unsetenv(name) })

	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(t, loadEnvFile(""))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(name+"=from-file\n"), 0o600))
	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv(name))
}

func TestRunCall(t *testing.T) {
	logger := zaptest.NewLogger(t)
	srv := server.New(config.NewDefaultConfig(), macro.NewStore(logger), interaction.NewLog(logger), nil, logger)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		httpSrv.Close()
	})
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ctx := context.Background()

	t.Run("prints the unwrapped result", func(t *testing.T) {
		var out bytes.Buffer
		err := runCall(ctx, &out, url, schemas.MsgRecordInteraction, `{"type":"click","url":"https://a.test","timestamp":42}`, rpc.Options{}, zap.NewNop())
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":1,"timestamp":42,"type":"click","url":"https://a.test"}`, out.String())

		out.Reset()
		require.NoError(t, runCall(ctx, &out, url, schemas.MsgGetInteractions, "", rpc.Options{}, zap.NewNop()))
		assert.Contains(t, out.String(), `"count": 1`)
	})

	t.Run("reports remote errors", func(t *testing.T) {
		var out bytes.Buffer
		err := runCall(ctx, &out, url, schemas.MsgExecuteMacro, `{"id":"nope"}`, rpc.Options{}, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser_execute_macro failed")
		assert.Contains(t, err.Error(), "nope")
		assert.Empty(t, out.String())
	})

	t.Run("rejects invalid payloads before dialing", func(t *testing.T) {
		err := runCall(ctx, new(bytes.Buffer), "ws://127.0.0.1:1/ws", schemas.MsgListMacros, `{not json`, rpc.Options{}, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrValidation)
	})

	t.Run("reports dial failures", func(t *testing.T) {
		err := runCall(ctx, new(bytes.Buffer), "ws://127.0.0.1:1/ws", schemas.MsgListMacros, "", rpc.Options{}, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrConnection)
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunServe(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.ServerCfg.Port = freePort(t)
	cfg.BrowserCfg.Executor = config.ExecutorNone
	cfg.InteractionsCfg.JournalPath = filepath.Join(t.TempDir(), "interactions.db")
	cfg.InteractionsCfg.Retention = config.RetentionConfig{Schedule: "@hourly", MaxAge: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runServe(ctx, cfg, zaptest.NewLogger(t)) }()

	base := "http://" + cfg.Server().Addr()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	var out bytes.Buffer
	err := runCall(context.Background(), &out, "ws://"+cfg.Server().Addr()+"/ws", schemas.MsgRecordInteraction,
		`{"type":"navigate","url":"https://a.test"}`, rpc.Options{}, zap.NewNop())
	require.NoError(t, err)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	// The interaction survived in the journal.
	j, err := interaction.OpenJournal(cfg.InteractionsCfg.JournalPath)
	require.NoError(t, err)
	defer j.Close()
	events, err := j.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "navigate", events[0].Type)
}
