package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-zwave/internal/audit"
	"github.com/nerrad567/gray-logic-zwave/internal/bridges/zwave"
)

// recordCommand appends a command and its outcome to the audit trail.
// A failed write is logged and does not affect the response.
func (s *Server) recordCommand(r *http.Request, ref zwave.EntityRef, body EntityCommand, result zwave.DispatchResult, dispatchErr error) {
	if s.audit == nil {
		return
	}

	details := map[string]any{
		"command":    body.Command,
		"translated": result.Translated,
		"delivered":  result.Delivered,
		"failed":     result.Failed,
	}
	if body.Level != 0 {
		details["level"] = body.Level
	}
	if body.Color != "" {
		details["color"] = body.Color
	}
	if dispatchErr != nil {
		details["error"] = dispatchErr.Error()
	}

	entry := &audit.Entry{
		Action:  audit.ActionCommand,
		Entity:  ref.String(),
		Source:  audit.SourceAPI,
		Details: details,
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		entry.Subject = claims.Subject
	}
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("audit write failed", "entity", entry.Entity, "error", err)
	}
}

// handleListAudit returns the command audit trail, newest first.
//
// Query parameters:
//   - action, entity, source: exact-match filters
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit trail not available")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Entity: q.Get("entity"),
		Source: q.Get("source"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list audit trail")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
