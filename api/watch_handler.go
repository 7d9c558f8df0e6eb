package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bprzybys-nc/manager-sub001/stream"
)

const (
	watchPingInterval = 30 * time.Second
	watchWriteTimeout = 10 * time.Second
)

// watch upgrades to a websocket and streams one incident's lifecycle
// events as JSON text frames until either side goes away.
func (a *API) watch(c echo.Context) error {
	incidentID := c.Param("incidentId")
	if _, err := a.eng.Store().GetIncident(c.Request().Context(), incidentID); err != nil {
		return mapError(err)
	}
	return a.serveWatch(c, stream.IncidentTopic(incidentID))
}

// watchAll streams workflow and incident events of every incident.
func (a *API) watchAll(c echo.Context) error {
	return a.serveWatch(c, stream.TopicIncidents)
}

func (a *API) serveWatch(c echo.Context, topic string) error {
	conn, _, _, err := ws.UpgradeHTTP(c.Request(), c.Response())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer conn.Close()

	broker := a.eng.Broker()
	subID := "ws-" + uuid.NewString()
	sub := broker.Subscribe(subID, topic)
	defer broker.RemoveSubscriber(subID)

	w := &frameWriter{conn: conn}
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		defer cancel()
		readControl(conn, w)
	}()

	log := a.logger.With(slog.String("topic", topic), slog.String("subscriber", subID))
	log.Debug("watch opened")
	defer log.Debug("watch closed")

	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if err := w.send(ws.OpPing, nil); err != nil {
				return nil
			}
		case evt, ok := <-sub.C():
			if !ok {
				_ = w.send(ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, "subscription closed"))
				return nil
			}
			b, err := json.Marshal(evt)
			if err != nil {
				log.Error("marshal event", slog.String("error", err.Error()))
				continue
			}
			if err := w.send(ws.OpText, b); err != nil {
				log.Debug("watch write failed", slog.String("error", err.Error()))
				return nil
			}
		}
	}
}

// frameWriter serializes whole frames onto the connection.
type frameWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *frameWriter) send(op ws.OpCode, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	return wsutil.WriteServerMessage(w.conn, op, payload)
}

// readControl answers pings and returns once the client closes or the
// connection fails. Data frames from the client are discarded.
func readControl(conn net.Conn, w *frameWriter) {
	rd := &wsutil.Reader{Source: conn, State: ws.StateServerSide}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if !hdr.OpCode.IsControl() {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}
		payload := make([]byte, hdr.Length)
		if _, err := io.ReadFull(rd, payload); err != nil {
			return
		}
		switch hdr.OpCode {
		case ws.OpClose:
			_ = w.send(ws.OpClose, payload)
			return
		case ws.OpPing:
			if err := w.send(ws.OpPong, payload); err != nil {
				return
			}
		}
	}
}
