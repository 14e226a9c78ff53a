package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
	"github.com/intern-cubit/trackerApp-sub002/internal/ingest"
)

const (
	reportDateLayout     = "2006-01-02"
	reportDateTimeLayout = "2006-01-02 15:04:05"
)

type reportRequest struct {
	DeviceToken    string  `json:"deviceToken"`
	Date           string  `json:"date"`
	Time           string  `json:"time"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	InputVoltage   float64 `json:"inputVoltage"`
	BatteryVoltage float64 `json:"batteryVoltage"`
	AlertFlag      bool    `json:"alertFlag"`
}

func (s *Server) handleReport(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ingest.Ack{Success: false, Message: "malformed report"})
	}
	if req.DeviceToken == "" {
		return c.JSON(http.StatusBadRequest, ingest.Ack{Success: false, Message: "deviceToken is required"})
	}

	ack, err := s.pipeline.Ingest(c.Request().Context(), ingest.Report{
		DeviceToken:     req.DeviceToken,
		ReportedAt:      parseReportTime(req.Date, req.Time, time.Now().UTC()),
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		InputVoltage:    req.InputVoltage,
		BatteryVoltage:  req.BatteryVoltage,
		BoundaryCrossed: req.AlertFlag,
	})
	if err != nil {
		// Trackers parse exactly one response shape; errors keep it too.
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrDeviceNotFound) {
			status = http.StatusNotFound
		} else {
			slog.Error("Report ingestion failed", "error", err)
		}
		return c.JSON(status, ack)
	}
	return c.JSON(http.StatusOK, ack)
}

// parseReportTime combines the report's date and time fields. Trackers with
// drifting clocks send garbage; a failed parse falls back to receive time
// rather than rejecting the report.
func parseReportTime(date, timeOfDay string, fallback time.Time) time.Time {
	if date == "" {
		return fallback
	}
	if timeOfDay == "" {
		if t, err := time.Parse(reportDateLayout, date); err == nil {
			return t
		}
		return fallback
	}
	if t, err := time.Parse(reportDateTimeLayout, date+" "+timeOfDay); err == nil {
		return t
	}
	return fallback
}
