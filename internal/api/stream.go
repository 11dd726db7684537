package api

import (
	"context"
	"net/http"
	"time"

	"github.com/newthinker/marketgate/internal/api/response"
	"github.com/newthinker/marketgate/internal/core"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// streamFrame is one update pushed to a stream client.
type streamFrame struct {
	Type string `json:"type"`
	core.Quote
}

// handleStream upgrades to a WebSocket and pushes a frame for every
// broadcast of the requested symbols until the client goes away. Updates
// are dropped, not queued, when the client falls behind.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	symbols, err := core.NormalizeSymbols(splitSymbols(r.URL.Query().Get("symbols")))
	if err == nil && len(symbols) == 0 {
		err = core.Errorf(core.ErrInvalidRequest, "symbols query parameter is required")
	}
	if err != nil {
		response.Fail(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	updates := make(chan core.Quote, streamBuffer)
	unsubscribe, err := s.data.SubscribeRealtime(symbols, func(symbol string, q core.Quote) {
		select {
		case updates <- q:
		default:
			s.logger.Warn("stream client too slow, dropping update", zap.String("symbol", symbol))
		}
	})
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, response.Detail(err).Code)
		return
	}
	defer unsubscribe()

	// The client never sends; CloseRead handles control frames and cancels
	// ctx when the connection drops.
	ctx := conn.CloseRead(r.Context())
	s.logger.Debug("stream opened", zap.Strings("symbols", symbols))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("stream closed", zap.Strings("symbols", symbols))
			return
		case q := <-updates:
			if err := s.write(ctx, conn, streamFrame{Type: "quote", Quote: q}); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, frame streamFrame) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}
