package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/drivelink/internal/connection"
	"github.com/nerrad567/drivelink/internal/driver"
	"github.com/nerrad567/drivelink/internal/journal"
)

// maxQueryParamLen bounds free-form query parameters.
const maxQueryParamLen = 64

// ConnectRequest is the optional body of POST /api/odrive/connect.
type ConnectRequest struct {
	Device struct {
		Serial string `json:"serial"`
	} `json:"device"`
}

// CommandRequest is the body of POST /api/odrive/command.
type CommandRequest struct {
	Command string `json:"command"`
}

// PropertyRequest is the body of the property endpoints.
type PropertyRequest struct {
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	devices, err := s.manager.Scan(r.Context())
	if err != nil {
		s.logger.Warn("device scan failed", "error", err)
		writeDeviceError(w, err)
		return
	}
	if devices == nil {
		devices = []driver.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	snap, err := s.manager.Connect(r.Context(), driver.Identity(strings.TrimSpace(req.Device.Serial)))
	if err != nil {
		s.logger.Info("connect failed", "requested_serial", req.Device.Serial, "error", err)
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "connected",
		"connection": snap,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.manager.Disconnect()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "disconnected",
		"connection": s.manager.Status(),
	})
}

// handleConnectionStatus probes the device before reporting, so a polling
// client also serves as a watchdog.
func (s *Server) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	s.manager.CheckConnection(r.Context())
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.executor.Execute(r.Context(), req.Command)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"command": res.Command.String(),
		"result":  res.Value,
		"message": res.Message,
	})
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	var req PropertyRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	v, err := s.manager.Get(r.Context(), req.Path)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":  req.Path,
		"value": v,
	})
}

func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	var req PropertyRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value is required")
		return
	}

	if err := s.manager.Set(r.Context(), req.Path, req.Value); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"path":    req.Path,
		"value":   req.Value,
	})
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	s.runProtected(w, r, connection.OperationSave, "Configuration saved")
}

func (s *Server) handleEraseConfig(w http.ResponseWriter, r *http.Request) {
	s.runProtected(w, r, connection.OperationErase, "Configuration erased - device will reboot")
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	s.runProtected(w, r, connection.OperationReboot, "Device rebooting")
}

func (s *Server) handleSaveAndReboot(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.SaveAndReboot(r.Context()); err != nil {
		s.logger.Warn("save and reboot failed", "error", err)
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Configuration saved - device rebooting",
		"connection": s.manager.Status(),
	})
}

func (s *Server) runProtected(w http.ResponseWriter, r *http.Request, kind connection.OperationKind, message string) {
	if err := s.manager.RunProtected(r.Context(), kind); err != nil {
		s.logger.Warn("protected operation failed", "operation", kind, "error", err)
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    message,
		"connection": s.manager.Status(),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "connection journal is not configured")
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	serial := r.URL.Query().Get("device")
	if len(serial) > maxQueryParamLen {
		writeBadRequest(w, "invalid device serial")
		return
	}

	entries, err := s.journal.List(r.Context(), journal.Query{Identity: driver.Identity(serial), Limit: limit})
	if err != nil {
		s.logger.Error("listing connection events failed", "error", err)
		writeInternalError(w, "failed to list connection events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}

// parseLimit parses ?limit=. Zero means the journal default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}
