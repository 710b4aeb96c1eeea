package rpc

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sackio/unibrowse-sub002/api/schemas"
	"go.uber.org/zap"
)

// Dial connects to a server endpoint and returns a started Session that lives
// until ctx is cancelled or Close is called.
func Dial(ctx context.Context, url string, logger *zap.Logger, opts Options) (*Session, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, schemas.NewConnectionError(err, "failed to dial %s (status %d)", url, resp.StatusCode)
		}
		return nil, schemas.NewConnectionError(err, "failed to dial %s", url)
	}
	s := NewSession(conn, logger, opts)
	s.Start(ctx)
	return s, nil
}
