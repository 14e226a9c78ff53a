package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/intern-cubit/trackerApp-sub002/internal/command"
	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
	"github.com/intern-cubit/trackerApp-sub002/internal/identity"
)

const defaultListLimit = 100

type registerDeviceRequest struct {
	Code     string            `json:"code"`
	Class    string            `json:"class"`
	Metadata map[string]string `json:"metadata"`
}

type deviceResponse struct {
	ID            string            `json:"id"`
	Code          string            `json:"code"`
	Aliases       []string          `json:"aliases,omitempty"`
	OwnerID       *uuid.UUID        `json:"ownerId,omitempty"`
	Class         string            `json:"class"`
	ActivationKey string            `json:"activationKey,omitempty"`
	Active        bool              `json:"active"`
	ExpiresAt     *time.Time        `json:"expiresAt,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

func deviceJSON(d *domain.Device, includeKey bool) deviceResponse {
	resp := deviceResponse{
		ID:        d.ID.String(),
		Code:      d.Code,
		Aliases:   d.Aliases,
		OwnerID:   d.OwnerID,
		Class:     string(d.Class),
		Active:    d.Active,
		ExpiresAt: d.ExpiresAt,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
	}
	if includeKey {
		resp.ActivationKey = d.ActivationKey
	}
	return resp
}

func (s *Server) handleRegisterDevice(c echo.Context) error {
	var req registerDeviceRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	device, err := s.resolver.Register(c.Request().Context(), identity.RegisterRequest{
		Code:     req.Code,
		Class:    domain.DeviceClass(req.Class),
		Metadata: req.Metadata,
	})
	if err != nil {
		return writeError(c, err)
	}
	// The activation key is only surfaced here, at registration time.
	return c.JSON(http.StatusCreated, deviceJSON(device, true))
}

func (s *Server) handleClaimDevice(c echo.Context) error {
	deviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid device id")
	}

	var req struct {
		ActivationKey string `json:"activationKey"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}

	device, err := s.resolver.Claim(c.Request().Context(), identity.ClaimRequest{
		DeviceID:      deviceID,
		UserID:        currentIdentity(c).UserID,
		ActivationKey: req.ActivationKey,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, deviceJSON(device, false))
}

func (s *Server) handleUnassignDevice(c echo.Context) error {
	device, err := s.ownedDevice(c)
	if err != nil {
		return err
	}
	if err := s.resolver.Unassign(c.Request().Context(), device.ID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type commandResponse struct {
	ID             string         `json:"id"`
	DeviceID       string         `json:"deviceId"`
	Type           string         `json:"type"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	SentAt         *time.Time     `json:"sentAt,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledgedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	RetryCount     int            `json:"retryCount"`
	Response       map[string]any `json:"response,omitempty"`
	Error          string         `json:"error,omitempty"`
}

func commandJSON(cmd *domain.Command) commandResponse {
	return commandResponse{
		ID:             cmd.ID.String(),
		DeviceID:       cmd.DeviceID.String(),
		Type:           string(cmd.Type),
		Parameters:     cmd.Parameters,
		Status:         string(cmd.Status),
		CreatedAt:      cmd.CreatedAt,
		SentAt:         cmd.SentAt,
		AcknowledgedAt: cmd.AcknowledgedAt,
		CompletedAt:    cmd.CompletedAt,
		RetryCount:     cmd.RetryCount,
		Response:       cmd.Response,
		Error:          cmd.LastError,
	}
}

type createCommandRequest struct {
	DeviceID   uuid.UUID      `json:"deviceId"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) handleCreateCommand(c echo.Context) error {
	var req createCommandRequest
	if err := c.Bind(&req); err != nil || req.DeviceID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "deviceId and type are required")
	}

	cmd, err := s.commands.Create(c.Request().Context(), req.DeviceID, currentIdentity(c).UserID, domain.CommandType(req.Type), req.Parameters)
	if err != nil {
		return writeError(c, err)
	}

	dispatchErr := s.commands.Dispatch(c.Request().Context(), cmd)
	resp := commandJSON(cmd)
	if dispatchErr != nil {
		// The command record exists either way; report its fate honestly.
		return c.JSON(http.StatusAccepted, resp)
	}
	return c.JSON(http.StatusCreated, resp)
}

type bulkCommandRequest struct {
	DeviceIDs  []uuid.UUID    `json:"deviceIds"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
}

type bulkCommandResult struct {
	DeviceID string           `json:"deviceId"`
	Command  *commandResponse `json:"command,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleBulkCommands(c echo.Context) error {
	var req bulkCommandRequest
	if err := c.Bind(&req); err != nil || len(req.DeviceIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "deviceIds and type are required")
	}

	results, err := s.commands.CreateBatch(c.Request().Context(), req.DeviceIDs, currentIdentity(c).UserID, domain.CommandType(req.Type), req.Parameters)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]bulkCommandResult, 0, len(results))
	for _, r := range results {
		item := bulkCommandResult{DeviceID: r.DeviceID.String()}
		if r.Command != nil {
			resp := commandJSON(r.Command)
			item.Command = &resp
		}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": out})
}

type ackRequest struct {
	Status   string         `json:"status"`
	Response map[string]any `json:"response"`
	Error    string         `json:"error"`
}

func (s *Server) handleAcknowledge(c echo.Context) error {
	commandID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid command id")
	}

	var req ackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}

	err = s.commands.Acknowledge(c.Request().Context(), command.AcknowledgeRequest{
		CommandID: commandID,
		Status:    domain.CommandStatus(req.Status),
		Response:  req.Response,
		Error:     req.Error,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListCommands(c echo.Context) error {
	device, err := s.ownedDevice(c)
	if err != nil {
		return err
	}

	commands, err := s.commands.ListByDevice(c.Request().Context(), device.ID, defaultListLimit)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]commandResponse, 0, len(commands))
	for _, cmd := range commands {
		out = append(out, commandJSON(cmd))
	}
	return c.JSON(http.StatusOK, map[string]any{"commands": out})
}

func (s *Server) handleGetLatestLocation(c echo.Context) error {
	device, err := s.ownedDevice(c)
	if err != nil {
		return err
	}

	loc, err := s.locations.GetLatest(c.Request().Context(), device.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"deviceId":        loc.DeviceID.String(),
		"latitude":        loc.Latitude,
		"longitude":       loc.Longitude,
		"reportedAt":      loc.ReportedAt,
		"inputVoltage":    loc.InputVoltage,
		"batteryVoltage":  loc.BatteryVoltage,
		"boundaryCrossed": loc.BoundaryCrossed,
		"updatedAt":       loc.UpdatedAt,
	})
}

func (s *Server) handleListHistory(c echo.Context) error {
	device, err := s.ownedDevice(c)
	if err != nil {
		return err
	}

	entries, err := s.locations.ListHistory(c.Request().Context(), device.ID, defaultListLimit)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"latitude":        e.Latitude,
			"longitude":       e.Longitude,
			"reportedAt":      e.ReportedAt,
			"inputVoltage":    e.InputVoltage,
			"batteryVoltage":  e.BatteryVoltage,
			"boundaryCrossed": e.BoundaryCrossed,
			"createdAt":       e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"history": out})
}

// ownedDevice loads the :id path device and enforces that the caller owns it.
func (s *Server) ownedDevice(c echo.Context) (*domain.Device, error) {
	deviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid device id")
	}

	device, err := s.resolver.Device(c.Request().Context(), deviceID)
	if err != nil {
		return nil, writeError(c, err)
	}
	if !device.OwnedBy(currentIdentity(c).UserID) {
		return nil, writeError(c, domain.ErrForbidden)
	}
	return device, nil
}
