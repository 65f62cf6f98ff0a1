package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/political-reasoner/backend/internal/apperr"
	"github.com/political-reasoner/backend/internal/logger"
	"github.com/political-reasoner/backend/internal/model/analysis"
	"github.com/political-reasoner/backend/internal/model/chat"
	"github.com/political-reasoner/backend/internal/service/reasoner"
	"github.com/political-reasoner/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Handler serves the stateless chat endpoints. The caller sends the whole
// conversation with every message.
type Handler struct {
	svc      *reasoner.Service
	upgrader websocket.Upgrader
}

// New creates the chat handler.
func New(svc *reasoner.Service) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes mounts the chat routes under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/ws", h.handleWebSocket)
}

type turnPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	History []turnPayload    `json:"history"`
	Message string           `json:"message"`
	Context *analysis.Result `json:"context,omitempty"`
}

// turns converts the payload history. Unknown roles are passed through as-is
// so validation reports them with their index.
func (p chatPayload) turns() []chat.Turn {
	out := make([]chat.Turn, 0, len(p.History))
	for _, t := range p.History {
		role, ok := chat.ParseRole(t.Role)
		if !ok {
			role = chat.Role(t.Role)
		}
		out = append(out, chat.Turn{Role: role, Content: t.Content})
	}
	return out
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatPayload
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondAppError(w, r, err)
		return
	}

	reply, err := h.svc.Chat(r.Context(), payload.turns(), payload.Message, payload.Context)
	if err != nil {
		utils.RespondAppError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outboundFrame struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

var errConnClosed = errors.New("websocket closed")

// handleWebSocket runs one chat connection. Frames are answered in order; a
// failed frame gets an error frame and the connection stays open.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warnf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logger.Log.WithField("remote", r.RemoteAddr).Info("[websocket] chat connection opened")

	conn.SetReadLimit(utils.MaxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := writeFrame(conn, "connected", map[string]any{"status": "ready"}); err != nil {
		return
	}

	frames := make(chan inboundFrame)
	g, ctx := errgroup.WithContext(r.Context())
	// unblocks the read loop once any goroutine gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// The read loop always returns an error so the group context is
	// cancelled when the peer goes away.
	g.Go(func() error {
		defer close(frames)
		for {
			var frame inboundFrame
			if err := conn.ReadJSON(&frame); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Log.Warnf("[websocket] read error: %v", err)
				}
				return errConnClosed
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))

			select {
			case frames <- frame:
			case <-ctx.Done():
				return errConnClosed
			}
		}
	})

	g.Go(func() error {
		for frame := range frames {
			if err := h.handleFrame(ctx, conn, frame); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errConnClosed) {
		logger.Log.Warnf("[websocket] chat connection ended: %v", err)
		return
	}
	logger.Log.WithField("remote", r.RemoteAddr).Info("[websocket] chat connection closed")
}

// handleFrame answers one inbound frame. Only write failures are returned.
func (h *Handler) handleFrame(ctx context.Context, conn *websocket.Conn, frame inboundFrame) error {
	const op = "chat.handleFrame"

	if frame.Type != "chat" {
		return writeError(conn, apperr.New(apperr.InvalidInput, op, fmt.Sprintf("unsupported frame type %q", frame.Type)))
	}

	var payload chatPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		return writeError(conn, apperr.New(apperr.InvalidInput, op, "invalid chat frame data"))
	}

	reply, err := h.svc.Chat(ctx, payload.turns(), payload.Message, payload.Context)
	if err != nil {
		if apperr.KindOf(err) == apperr.Canceled {
			return nil
		}
		logger.Log.WithFields(logrus.Fields{
			"code":  apperr.KindOf(err),
			"error": err.Error(),
		}).Info("[websocket] chat frame failed")
		return writeError(conn, err)
	}
	return writeFrame(conn, "reply", reply)
}

// writeFrame is only called from the processing goroutine; pings go through
// WriteControl, which may run concurrently with it.
func writeFrame(conn *websocket.Conn, kind string, data any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(outboundFrame{Type: kind, Data: data, Timestamp: time.Now().UnixMilli()})
}

func writeError(conn *websocket.Conn, err error) error {
	return writeFrame(conn, "error", utils.ErrorBody{
		Error: apperr.Message(err),
		Code:  string(apperr.KindOf(err)),
	})
}

