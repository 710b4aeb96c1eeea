// Package browser holds the collaborators that run macro code in a real
// browser: the connected browser extension, or a local Chrome over CDP.
package browser

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sackio/unibrowse-sub002/api/schemas"
	"github.com/sackio/unibrowse-sub002/internal/rpc"
	"go.uber.org/zap"
)

// Sender is the part of an rpc.Session the extension executor needs.
type Sender interface {
	ID() string
	Done() <-chan struct{}
	Send(ctx context.Context, msgType schemas.MessageType, payload interface{}) (rpc.Result, error)
}

// ExtensionExecutor forwards macro runs to the browser extension attached
// to the server. Only the most recently attached extension is used.
type ExtensionExecutor struct {
	mu      sync.RWMutex
	current Sender
	logger  *zap.Logger
}

// NewExtensionExecutor creates an executor with no extension attached.
func NewExtensionExecutor(logger *zap.Logger) *ExtensionExecutor {
	return &ExtensionExecutor{logger: logger.Named("extension_executor")}
}

// Attach makes s the target of subsequent runs, replacing any previous one.
func (e *ExtensionExecutor) Attach(s Sender) {
	e.mu.Lock()
	prev := e.current
	e.current = s
	e.mu.Unlock()

	if prev != nil {
		e.logger.Info("Browser extension replaced.", zap.String("previous", prev.ID()), zap.String("session_id", s.ID()))
		return
	}
	e.logger.Info("Browser extension attached.", zap.String("session_id", s.ID()))
}

// Detach clears the target if it is still s. A stale detach after a newer
// extension attached is ignored.
func (e *ExtensionExecutor) Detach(s Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.ID() == s.ID() {
		e.current = nil
		e.logger.Info("Browser extension detached.", zap.String("session_id", s.ID()))
	}
}

// Attached reports whether an open extension session is available.
func (e *ExtensionExecutor) Attached() bool {
	return e.target() != nil
}

func (e *ExtensionExecutor) target() Sender {
	e.mu.RLock()
	s := e.current
	e.mu.RUnlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		return nil
	default:
		return s
	}
}

// Execute sends a browser_run_macro request and returns the unwrapped result.
func (e *ExtensionExecutor) Execute(ctx context.Context, run schemas.MacroRun) (json.RawMessage, error) {
	s := e.target()
	if s == nil {
		return nil, schemas.NewConnectionError(nil, "no browser extension is connected")
	}
	res, err := s.Send(ctx, schemas.MsgRunMacro, run)
	if err != nil {
		e.logger.Debug("Macro run failed in extension.", zap.String("macro_id", run.MacroID), zap.Error(err))
		return nil, err
	}
	return res.Unwrap(), nil
}
