package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/intern-cubit/trackerApp-sub002/internal/auth"
	"github.com/intern-cubit/trackerApp-sub002/internal/command"
	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
	"github.com/intern-cubit/trackerApp-sub002/internal/metrics"
	"github.com/intern-cubit/trackerApp-sub002/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // operator consoles and agents connect cross-origin
	},
}

// clientMessage is the inbound frame shape on a live session.
type clientMessage struct {
	Action    string         `json:"action"`
	DeviceID  uuid.UUID      `json:"deviceId,omitempty"`
	CommandID uuid.UUID      `json:"commandId,omitempty"`
	Status    string         `json:"status,omitempty"`
	Response  map[string]any `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (s *Server) identityFromRequest(c echo.Context) (*auth.Identity, error) {
	token := c.QueryParam("token")
	if header := c.Request().Header.Get("Authorization"); header != "" {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	return s.verifier.Verify(token)
}

// handleWebSocket performs the session handshake: token verification, then
// optional device binding, then registry bind. Invalid or missing tokens
// reject the handshake before any bind happens.
func (s *Server) handleWebSocket(c echo.Context) error {
	identity, err := s.identityFromRequest(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid identity token"})
	}

	clientClass := domain.ClientClass(c.QueryParam("clientClass"))
	if clientClass != domain.ClientMobileAgent {
		clientClass = domain.ClientConsole
	}

	var device *domain.Device
	if deviceToken := c.QueryParam("deviceToken"); deviceToken != "" {
		device, err = s.resolver.Resolve(c.Request().Context(), deviceToken)
		if err != nil {
			return writeError(c, err)
		}
	}

	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		metrics.ConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "connection limit reached"})
	}
	defer s.limits.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	session := registry.NewSession(identity.UserID, device, clientClass, registry.NewWebSocketTransport(conn))
	if err := s.registry.Bind(session); err != nil {
		conn.Close()
		return nil
	}
	defer s.registry.Unbind(session)

	if err := session.Push(domain.EventAuthenticated, map[string]any{"sessionId": session.ID, "userId": identity.UserID}); err != nil {
		slog.Warn("Failed to push authenticated event", "session_id", session.ID.String(), "error", err)
	}

	// Read pump - blocks until the connection closes.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.handleClientMessage(c, session, data)
	}

	return nil
}

func (s *Server) handleClientMessage(c echo.Context, session *registry.Session, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("Ignoring malformed client message", "session_id", session.ID.String(), "error", err)
		return
	}

	switch msg.Action {
	case "subscribe-live-location":
		session.SubscribeLiveLocation(msg.DeviceID)
	case "unsubscribe-live-location":
		session.UnsubscribeLiveLocation(msg.DeviceID)
	case "ack":
		err := s.commands.Acknowledge(c.Request().Context(), command.AcknowledgeRequest{
			CommandID: msg.CommandID,
			Status:    domain.CommandStatus(msg.Status),
			Response:  msg.Response,
			Error:     msg.Error,
		})
		if err != nil && !errors.Is(err, domain.ErrCommandNotFound) {
			slog.Warn("Acknowledgment over websocket failed", "command_id", msg.CommandID.String(), "error", err)
		}
	default:
		slog.Debug("Unknown client action", "action", msg.Action, "session_id", session.ID.String())
	}
}
