package web

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status  string                   `json:"status"`
	Checks  map[string]string        `json:"checks"`
	Imports core.ImportLimiterStatus `json:"imports"`
}

// handleHealth pings every dependency and answers 503 if any is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := s.checks[name].Ping(ctx); err != nil {
			logging.FromContext(ctx).Warn("health check failed", "check", name, "error", err)
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	resp.Imports = s.service.LimiterStatus()

	writeJSON(w, status, resp)
}
