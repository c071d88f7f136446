package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/BaSui01/flowcanvas/workflow/execution"
)

const defaultReadLimit = 1 << 20

// WebSocketSource follows a run's live event stream. Each Stream dials a
// fresh connection asking the server to replay from offset zero. Frames may
// carry one event or a JSON array of events, canonical or legacy.
type WebSocketSource struct {
	URL       string
	Header    http.Header
	ReadLimit int64
}

// Stream implements Source.
func (s *WebSocketSource) Stream(ctx context.Context, emit func(execution.Event) error) error {
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("from", "0")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: s.Header})
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	defer conn.CloseNow()

	limit := s.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		events, err := execution.Decode(data)
		if err != nil {
			conn.Close(websocket.StatusUnsupportedData, "undecodable event")
			return err
		}
		for _, ev := range events {
			if err := emit(ev); err != nil {
				if errors.Is(err, ErrStopped) {
					conn.Close(websocket.StatusNormalClosure, "")
				}
				return stopErr(err)
			}
		}
	}
}
