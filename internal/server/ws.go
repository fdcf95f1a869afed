package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/app"
)

const writeWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local control surface only
	},
}

type resultMessage struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// ResultsHandler streams classification results to websocket clients.
type ResultsHandler struct {
	pipeline *app.Pipeline
	logger   *zap.SugaredLogger
}

// NewResultsHandler creates a ResultsHandler for p.
func NewResultsHandler(p *app.Pipeline, logger *zap.SugaredLogger) *ResultsHandler {
	return &ResultsHandler{pipeline: p, logger: logger}
}

// ServeHTTP upgrades the connection and forwards every result until the
// client disconnects.
func (h *ResultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	results, unsubscribe := h.pipeline.Subscribe()
	defer unsubscribe()

	// Reads only detect the close; clients send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debugw("results client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-closed:
			h.logger.Debugw("results client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(resultMessage{
				Label:      res.Label,
				Confidence: res.Confidence,
				Timestamp:  time.Now().UnixMilli(),
			})
			if err != nil {
				h.logger.Debugw("results write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
