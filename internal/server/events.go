package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/piotask/internal/integration"
	"github.com/dshills/piotask/internal/task"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

// handleEvents streams every bus event to the client as JSON until either
// side closes. A client that falls behind loses events rather than
// blocking publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "event stream not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan integration.Event, eventBuffer)
	sub := s.bus.Subscribe("*", func(ev integration.Event) {
		select {
		case events <- ev:
		default:
			s.log.Debug("event dropped for slow client", "type", ev.Type)
		}
	})
	defer sub.Dispose()

	// Reads only serve close frames and pongs.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	s.log.Debug("event client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("event client disconnected", "remote", r.RemoteAddr)
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			ev.Payload = wirePayload(ev.Payload)
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type wireExecution struct {
	ID           string            `json:"id"`
	ProviderType string            `json:"providerType"`
	Task         *task.ProjectTask `json:"task"`
}

type wireProcessEnded struct {
	Execution wireExecution `json:"execution"`
	ExitCode  int           `json:"exitCode"`
}

// wirePayload converts host payloads, which hold live executions, into
// plain values.
func wirePayload(p any) any {
	switch v := p.(type) {
	case task.ProcessEnded:
		out := wireProcessEnded{ExitCode: v.ExitCode}
		if v.Execution != nil {
			out.Execution = toWireExecution(v.Execution)
		}
		return out
	case task.Execution:
		return toWireExecution(v)
	default:
		return p
	}
}

func toWireExecution(e task.Execution) wireExecution {
	return wireExecution{ID: e.ID(), ProviderType: e.ProviderType(), Task: e.Task()}
}
