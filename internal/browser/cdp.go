package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/sackio/unibrowse-sub002/api/schemas"
	"github.com/sackio/unibrowse-sub002/internal/config"
	"go.uber.org/zap"
)

// CDPExecutor runs macros in a Chrome instance it launches and drives over
// the DevTools protocol. One tab is shared, so runs are serialized.
type CDPExecutor struct {
	mu      sync.Mutex
	timeout time.Duration
	logger  *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewCDPExecutor launches the browser. ctx bounds the browser's lifetime.
func NewCDPExecutor(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*CDPExecutor, error) {
	log := logger.Named("cdp_executor")

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Errorf),
	)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, schemas.NewConnectionError(err, "failed to start browser")
	}

	timeout := cfg.CDPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log.Info("Browser started.", zap.Bool("headless", cfg.Headless), zap.Duration("timeout", timeout))
	return &CDPExecutor{
		timeout:       timeout,
		logger:        log,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Execute evaluates the macro's code as a function applied to its params
// and returns the JSON value it resolves to. Promises are awaited.
func (e *CDPExecutor) Execute(ctx context.Context, run schemas.MacroRun) (json.RawMessage, error) {
	expr, err := macroExpression(run)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	runCtx, cancel := context.WithTimeout(e.browserCtx, e.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var raw []byte
	err = chromedp.Run(runCtx, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, schemas.NewTimeoutError("macro %s did not finish within %s", run.MacroID, e.timeout)
		}
		return nil, fmt.Errorf("macro %s failed: %w", run.MacroID, err)
	}
	return json.RawMessage(raw), nil
}

// macroExpression wraps code so that it is called with the params object
// and an undefined result becomes null.
func macroExpression(run schemas.MacroRun) (string, error) {
	code := strings.TrimSpace(run.Code)
	if code == "" {
		return "", schemas.NewValidationError("macro %s has no code", run.MacroID)
	}
	params := run.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	args, err := json.Marshal(params)
	if err != nil {
		return "", schemas.NewValidationError("macro %s params are not serializable: %v", run.MacroID, err)
	}
	return fmt.Sprintf("(async () => { const __r = await (%s)(%s); return __r === undefined ? null : __r; })()", code, args), nil
}

// Close shuts the browser down.
func (e *CDPExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := chromedp.Cancel(e.browserCtx)
	e.browserCancel()
	e.allocCancel()
	e.logger.Info("Browser stopped.")
	if err != nil && err != context.Canceled {
		return fmt.Errorf("failed to stop browser: %w", err)
	}
	return nil
}
