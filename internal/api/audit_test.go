package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/nerrad567/gray-logic-zwave/internal/audit"
	"github.com/nerrad567/gray-logic-zwave/internal/auth"
	"github.com/nerrad567/gray-logic-zwave/internal/bridges/zwave"
)

func TestEntityCommand_Audited(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.result = zwave.DispatchResult{Translated: true, Delivered: 1}

	w := env.do(t, http.MethodPost, "/api/v1/entities/node5/1/command", `{"command":"Set Level","level":40}`, auth.RoleUser)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	env.dispatcher.err = zwave.ErrInvalidCommand
	env.do(t, http.MethodPost, "/api/v1/entities/node5/1/command", `{"command":"Explode"}`, auth.RoleUser)

	res, err := env.audit.List(context.Background(), audit.Filter{Entity: "node5/1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("Total = %d, want 2", res.Total)
	}

	failed, ok := findCommand(res.Entries, "Explode")
	if !ok {
		t.Fatal("failed command not audited")
	}
	if failed.Details["error"] == nil {
		t.Error("failed command should record the error")
	}

	ok1, found := findCommand(res.Entries, "Set Level")
	if !found {
		t.Fatal("successful command not audited")
	}
	if ok1.Subject != "usr-test" || ok1.Source != audit.SourceAPI {
		t.Errorf("entry = %+v", ok1)
	}
	if ok1.Details["level"] != float64(40) || ok1.Details["delivered"] != float64(1) {
		t.Errorf("details = %v", ok1.Details)
	}
}

func findCommand(entries []audit.Entry, name string) (audit.Entry, bool) {
	for _, e := range entries {
		if e.Details["command"] == name {
			return e, true
		}
	}
	return audit.Entry{}, false
}

func TestListAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, entity := range []string{"node5/1", "node5/1", "node7/2"} {
		if err := env.audit.Create(ctx, &audit.Entry{Action: audit.ActionCommand, Entity: entity, Source: audit.SourceBus}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		path      string
		role      auth.Role
		wantCode  int
		wantTotal int
	}{
		{"all", "/api/v1/audit", auth.RoleAdmin, http.StatusOK, 3},
		{"by entity", "/api/v1/audit?entity=node7/2", auth.RoleAdmin, http.StatusOK, 1},
		{"by source", "/api/v1/audit?source=api", auth.RoleOwner, http.StatusOK, 0},
		{"bad limit", "/api/v1/audit?limit=abc", auth.RoleAdmin, http.StatusBadRequest, 0},
		{"bad offset", "/api/v1/audit?offset=-2", auth.RoleAdmin, http.StatusBadRequest, 0},
		{"user forbidden", "/api/v1/audit", auth.RoleUser, http.StatusForbidden, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, "", tt.role)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var res audit.ListResult
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Entries) != tt.wantTotal {
				t.Errorf("total = %d, entries = %d, want %d", res.Total, len(res.Entries), tt.wantTotal)
			}
		})
	}
}
