package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/logging"
	"github.com/and161185/alurea-fulfillment/internal/model"
	"github.com/and161185/alurea-fulfillment/internal/service"
	"github.com/and161185/alurea-fulfillment/internal/tracking"
)

// Socket message types.
const (
	MsgLocation       = "location"
	MsgUpdateLocation = "update-location"
	MsgError          = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxSocketFrame = 512
)

// SocketMessage is the JSON frame exchanged on /ws/location.
type SocketMessage struct {
	Type      string    `json:"type"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (s *Server) handleGetLocation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Current())
}

func (s *Server) handlePutLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Lat == nil || req.Lon == nil {
		writeError(w, r, fmt.Errorf("lat and lon are required: %w", errs.ErrInvalidArgument))
		return
	}
	loc, err := s.updateLocation(*req.Lat, *req.Lon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) updateLocation(lat, lon float64) (model.Location, error) {
	if !(model.Location{Lat: lat, Lon: lon}).Valid() {
		return model.Location{}, fmt.Errorf("coordinates out of range: %w", errs.ErrInvalidArgument)
	}
	return s.tracker.Update(lat, lon), nil
}

// socketToken accepts a bearer header or a "token" query parameter; browsers cannot set headers on upgrade.
func socketToken(r *http.Request) string {
	if tok, ok := bearerToken(r); ok {
		return tok
	}
	return r.URL.Query().Get("token")
}

// handleLocationSocket pushes the current position on connect and every update after it.
// Rider and admin sessions may also publish positions over the same socket.
func (s *Server) handleLocationSocket(w http.ResponseWriter, r *http.Request) {
	var claims *service.Claims
	if tok := socketToken(r); tok != "" {
		c, err := s.auth.ParseToken(tok)
		if err != nil {
			writeError(w, r, err)
			return
		}
		claims = c
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		logging.FromContext(r.Context()).Debug("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.tracker.Subscribe(ctx)
	defer s.tracker.Unsubscribe(sub)

	replies := make(chan SocketMessage, 1)
	go s.readSocket(ctx, cancel, conn, claims, replies)
	s.writeSocket(ctx, conn, sub, replies)
}

// writeSocket is the only writer on conn.
func (s *Server) writeSocket(ctx context.Context, conn *websocket.Conn, sub *tracking.Subscription, replies <-chan SocketMessage) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case loc, ok := <-sub.C():
			if !ok {
				return
			}
			msg := SocketMessage{Type: MsgLocation, Lat: loc.Lat, Lon: loc.Lon, UpdatedAt: loc.UpdatedAt}
			if err := writeFrame(conn, msg); err != nil {
				return
			}
		case msg := <-replies:
			if err := writeFrame(conn, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, msg SocketMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// readSocket is the only reader on conn. It cancels ctx when the peer goes away.
func (s *Server) readSocket(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, claims *service.Claims, replies chan<- SocketMessage) {
	defer cancel()

	conn.SetReadLimit(maxSocketFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	reply := func(err string) {
		select {
		case replies <- SocketMessage{Type: MsgError, Error: err}:
		default:
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.FromContext(ctx).Debug("websocket read", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg SocketMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MsgUpdateLocation {
			reply("unsupported message")
			continue
		}
		if claims == nil || (claims.Role != model.RoleRider && claims.Role != model.RoleAdmin) {
			reply("forbidden")
			continue
		}
		if _, err := s.updateLocation(msg.Lat, msg.Lon); err != nil {
			reply("coordinates out of range")
		}
	}
}
