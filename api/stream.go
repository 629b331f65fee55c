package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/starfederation/datastar-go/datastar"

	"tasksync/domain"
)

// streamSSE keeps a datastar client in sync. It first patches the full
// (filtered) list so a reconnecting client resynchronises, then relays every
// change as a fragment patch.
func (s *server) streamSSE(c echo.Context) error {
	sub := s.hub.Subscribe(domain.TasksTopic)
	defer sub.Close()

	f := domain.FilterFromValues(c.QueryParams())
	tasks, err := s.tasks.List(c.Request().Context(), f)
	if err != nil {
		s.logger.WithError(err).Error("stream resync")
		return c.String(http.StatusInternalServerError, "failed to list tasks")
	}
	list, err := s.views.List(tasks)
	if err != nil {
		return err
	}

	sse := datastar.NewSSE(c.Response(), c.Request())
	if err := sse.PatchElements(list); err != nil {
		return nil
	}
	logger := s.logger.WithField("remote", c.RealIP())
	logger.Debug("stream subscriber connected")

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-sse.Context().Done():
			logger.Debug("stream subscriber left")
			return nil
		case <-keepAlive.C:
			if err := sse.PatchSignals([]byte(`{}`)); err != nil {
				return nil
			}
		case ev, ok := <-sub.Events():
			if !ok {
				logger.Warn("stream subscriber dropped")
				return nil
			}
			if err := patchChange(sse, ev, f); err != nil {
				logger.WithError(err).Debug("stream write failed")
				return nil
			}
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		return strings.Contains(origin, "://"+strings.TrimSpace(r.Host))
	},
}

const wsWriteTimeout = 10 * time.Second

// streamWS sends every change as a JSON push message. The subscription is
// taken before the handshake completes, so a client that lists after
// connecting sees every later change. The client owns resynchronisation after
// a reconnect.
func (s *server) streamWS(c echo.Context) error {
	sub := s.hub.Subscribe(domain.TasksTopic)
	defer sub.Close()

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()
	logger := s.logger.WithField("remote", c.RealIP())

	// Inbound frames are ignored; reading detects the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request().Context()
	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-gone:
			return nil
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(wsWriteTimeout))
			return nil
		case <-keepAlive.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return nil
			}
		case ev, ok := <-sub.Events():
			if !ok {
				logger.Warn("websocket subscriber dropped")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync"),
					time.Now().Add(wsWriteTimeout))
				return nil
			}
			data, err := sonic.Marshal(ev.Push())
			if err != nil {
				logger.WithError(err).WithFields(log.Fields{"id": ev.SubjectID}).Error("marshal push")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return nil
			}
		}
	}
}
