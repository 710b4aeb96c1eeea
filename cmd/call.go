package cmd

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"io"
	"time"

	json "github.com/json-iterator/go"
	"github.com/sackio/unibrowse-sub002/api/schemas"
	"github.com/sackio/unibrowse-sub002/internal/config"
	"github.com/sackio/unibrowse-sub002/internal/observability"
	"github.com/sackio/unibrowse-sub002/internal/rpc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCallCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <type> [payload]",
		Short: "Send one request to a running server and print the result",
		Example: `  unibrowse call browser_list_macros '{"search":"login"}'
  unibrowse call browser_get_interactions '{"types":["click"],"limit":10}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if url == "" {
				url = "ws://" + cfg.Server().Addr() + "/ws"
			}
			payload := ""
			if len(args) == 2 {
				payload = args[1]
			}
			return runCall(cmd.Context(), cmd.OutOrStdout(), url, schemas.MessageType(args[0]), payload, callOptions(cfg, timeout), observability.GetLogger())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "server websocket URL (default ws://<server.host>:<server.port>/ws)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "call timeout (default rpc.default_timeout, or rpc.execute_timeout for executions)")
	return cmd
}

func callOptions(cfg *config.Config, timeout time.Duration) rpc.Options {
	t := rpc.Timeouts{Default: cfg.RPC().DefaultTimeout, Execute: cfg.RPC().ExecuteTimeout}
	if timeout > 0 {
		t = rpc.Timeouts{Default: timeout, Execute: timeout}
	}
	return rpc.Options{Timeouts: t, ReadLimit: cfg.Server().ReadLimit}
}

// runCall dials url, sends one request and writes the unwrapped result to
// out as indented JSON.
func runCall(ctx context.Context, out io.Writer, url string, msgType schemas.MessageType, payload string, opts rpc.Options, logger *zap.Logger) error {
	if payload == "" {
		payload = "{}"
	}
	if !json.Valid([]byte(payload)) {
		return schemas.NewValidationError("payload is not valid JSON: %s", payload)
	}

	session, err := rpc.Dial(ctx, url, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		session.Close()
		session.Wait()
	}()

	res, err := session.Send(ctx, msgType, stdjson.RawMessage(payload))
	if err != nil {
		return fmt.Errorf("%s failed: %w", msgType, err)
	}

	var v interface{}
	if err := res.Decode(&v); err != nil {
		return err
	}
	pretty, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	_, err = fmt.Fprintln(out, string(pretty))
	return err
}
