package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-zwave/internal/bridges/zwave"
	"github.com/nerrad567/gray-logic-zwave/internal/device"
)

// EntityCommand is the request body for POST /entities/{deviceID}/{unit}/command.
type EntityCommand struct {
	Command string `json:"command"`
	Level   int    `json:"level,omitempty"`
	Color   string `json:"color,omitempty"`
}

// commandResponse reports what a command produced on the gateway side.
type commandResponse struct {
	Entity     string `json:"entity"`
	Command    string `json:"command"`
	Translated bool   `json:"translated"`
	Topic      string `json:"topic,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Delivered  int    `json:"delivered"`
	Failed     int    `json:"failed"`
}

// handleListEntities returns every host entity.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.registry.List(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
}

// handleGetEntity returns a single entity.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	key, ok := entityKey(w, r)
	if !ok {
		return
	}

	e, err := s.registry.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, device.ErrEntityNotFound) {
			writeNotFound(w, "entity not found")
			return
		}
		writeInternalError(w, "failed to get entity")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleGetEntityLog returns the change log of one entity, newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50, capped at 200)
func (s *Server) handleGetEntityLog(w http.ResponseWriter, r *http.Request) {
	key, ok := entityKey(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.registry.GetLog(r.Context(), key, limit)
	if err != nil {
		if errors.Is(err, device.ErrEntityNotFound) {
			writeNotFound(w, "entity not found")
			return
		}
		writeInternalError(w, "failed to read entity log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// handleEntityCommand sends a host command to the gateway.
// The entity state is not changed here; it follows when the gateway
// reports the new value.
func (s *Server) handleEntityCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, "command dispatch not available")
		return
	}

	key, ok := entityKey(w, r)
	if !ok {
		return
	}

	var body EntityCommand
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	ref := zwave.EntityRef{DeviceID: key.DeviceID, Unit: key.Unit}
	result, err := s.commands.Command(r.Context(), ref, zwave.Command{
		Name:  body.Command,
		Level: body.Level,
		Color: body.Color,
	})
	s.recordCommand(r, ref, body, result, err)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, commandResponse{
		Entity:     ref.String(),
		Command:    body.Command,
		Translated: result.Translated,
		Topic:      result.Topic,
		Payload:    string(result.Payload),
		Delivered:  result.Delivered,
		Failed:     result.Failed,
	})
}

// entityKey parses the {deviceID}/{unit} path parameters. It writes a 400
// response and returns false when the unit is not a positive integer.
func entityKey(w http.ResponseWriter, r *http.Request) (device.Key, bool) {
	deviceID := chi.URLParam(r, "deviceID")
	unit, err := strconv.Atoi(chi.URLParam(r, "unit"))
	if err != nil || unit < 1 {
		writeBadRequest(w, "unit must be a positive integer")
		return device.Key{}, false
	}
	return device.Key{DeviceID: deviceID, Unit: unit}, true
}

// handleListMappings returns the learned Z-Wave mapping table.
func (s *Server) handleListMappings(w http.ResponseWriter, _ *http.Request) {
	if s.mappings == nil {
		writeError(w, http.StatusServiceUnavailable, "mapping table not available")
		return
	}
	table := s.mappings.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":    table,
		"count":      len(table.Devices()),
		"index_size": table.IndexSize(),
	})
}

// handleListClients returns the gateway clients connected to the broker.
func (s *Server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	if s.clients == nil {
		writeError(w, http.StatusServiceUnavailable, "broker not available")
		return
	}
	clients := s.clients.List()
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients, "count": len(clients)})
}
