package client

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"tasksync/domain"
)

// Stream is an open subscription to the server's change stream. The server
// starts queueing changes for it before the handshake completes, so a list
// fetched after Subscribe returns misses nothing that Run will not deliver.
type Stream struct {
	conn *websocket.Conn
}

// Subscribe dials the websocket change stream without reading from it.
func (c *Client) Subscribe(ctx context.Context) (*Stream, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(c.base.Path, "/") + "/tasks/ws"
	u.RawQuery = ""

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		te := &TransportError{Op: "watch", Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode
		}
		return nil, te
	}
	return &Stream{conn: conn}, nil
}

// Close drops the subscription without reading it.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// Run calls handle for every change, starting with those queued since
// Subscribe, until ctx is done or the connection drops. It closes the stream.
func (s *Stream) Run(ctx context.Context, handle func(domain.Push)) error {
	conn := s.conn
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return &TransportError{Op: "watch", Err: err}
		}
		if mt != websocket.TextMessage {
			continue
		}
		var p domain.Push
		if err := sonic.Unmarshal(data, &p); err != nil {
			continue
		}
		handle(p)
	}
}

// Watch subscribes and runs the stream. Callers that keep a board should use
// Subscribe, then List, then Run so the board starts from a consistent list.
func (c *Client) Watch(ctx context.Context, handle func(domain.Push)) error {
	s, err := c.Subscribe(ctx)
	if err != nil {
		return err
	}
	return s.Run(ctx, handle)
}
