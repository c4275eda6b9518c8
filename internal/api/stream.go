package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/trogers1052/stock-backtester/internal/models"
	"github.com/yanun0323/logs"
)

const streamWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StreamBacktest handles GET /backtests/stream. The client sends one run
// request as JSON and receives a RunEvent per trade and valuation, then a
// RUN_COMPLETED event or an error event before the server closes.
func (h *Handler) StreamBacktest(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req models.RunRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeClose(conn, websocket.CloseUnsupportedData, "invalid run request")
		return
	}

	sink := &socketObserver{conn: conn, runName: req.Name}
	report, err := h.svc.Stream(r.Context(), &req, sink)
	if err != nil {
		writeClose(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}

	if err := sink.send(models.RunEvent{
		EventType: models.EventRunCompleted,
		RunName:   req.Name,
		Summary:   &report.Summary,
		Timestamp: time.Now(),
	}); err != nil {
		logs.Errorf("failed to send completion of run %q: %v", req.Name, err)
		return
	}
	writeClose(conn, websocket.CloseNormalClosure, "")
}

func writeClose(conn *websocket.Conn, code int, text string) {
	// control frames are limited to 125 bytes
	if len(text) > 123 {
		text = text[:123]
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteTimeout))
}

type socketObserver struct {
	conn    *websocket.Conn
	runName string
}

func (s *socketObserver) send(event models.RunEvent) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteJSON(event)
}

func (s *socketObserver) OnTrade(_ context.Context, trade models.TradeLogEntry) error {
	return s.send(models.RunEvent{
		EventType: models.EventTradeExecuted,
		RunName:   s.runName,
		Trade:     &trade,
		Timestamp: time.Now(),
	})
}

func (s *socketObserver) OnNetWorth(_ context.Context, point models.NetWorthPoint) error {
	return s.send(models.RunEvent{
		EventType: models.EventNetWorthRecorded,
		RunName:   s.runName,
		NetWorth:  &point,
		Timestamp: time.Now(),
	})
}
