package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/parlance/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 120 * time.Second
	readLimit    = 2 << 20
)

// handleRealtimeWS accepts a client channel. The connection is registered
// under a fresh id and greeted with a connected event. Every inbound text
// frame is routed and its response pushed back through the registry, so
// message handling never changes the transport status.
func (s *Server) handleRealtimeWS(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil || s.router == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "realtime routing not configured")
		return
	}
	if err := s.registry.Ping(r.Context()); err != nil {
		s.logger.Error("reject websocket: store unreachable", "error", err)
		respondError(w, http.StatusServiceUnavailable, "store_unreachable", "connection store unreachable")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := uuid.NewString()
	p := s.hub.attach(id)
	if _, err := s.registry.Register(ctx, id); err != nil {
		s.logger.Error("register connection failed", "connection_id", id, "error", err)
		s.hub.detach(id, p)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registration failed"),
			time.Now().Add(writeTimeout))
		return
	}
	s.connectionGauge()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, p)
	}()

	if err := s.registry.Push(ctx, id, protocol.OK(protocol.EventConnected, "", protocol.Connected{ConnectionID: id})); err != nil {
		s.logger.Warn("connected event not delivered", "connection_id", id, "error", err)
	}

	handlers, hctx := errgroup.WithContext(ctx)
	limit := s.cfg.HandlerConcurrency
	if limit <= 0 {
		limit = 8
	}
	handlers.SetLimit(limit)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		if hctx.Err() != nil {
			break
		}
		handlers.Go(func() error {
			res := s.router.HandleRaw(hctx, id, data)
			if err := s.registry.Push(hctx, id, res); err != nil {
				s.logger.Debug("response not delivered", "connection_id", id, "action", res.Action, "error", err)
			}
			return nil
		})
	}

	cancel()
	_ = handlers.Wait()
	s.hub.detach(id, p)
	<-writerDone

	if err := s.registry.Deregister(context.WithoutCancel(r.Context()), id); err != nil {
		s.logger.Warn("deregister connection failed", "connection_id", id, "error", err)
	}
	s.connectionGauge()
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case payload := <-p.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if s.metrics != nil {
					s.metrics.WSWriteErrors.WithLabelValues("write_message").Inc()
				}
				cancel()
				return
			}
			if s.metrics != nil {
				s.metrics.WSMessages.WithLabelValues("out", outboundAction(payload)).Inc()
			}
		}
	}
}

func (s *Server) connectionGauge() {
	if s.metrics != nil {
		s.metrics.ActiveConnections.Set(float64(s.hub.Len()))
	}
}

func outboundAction(payload []byte) string {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Action == "" {
		return "unknown"
	}
	return probe.Action
}
