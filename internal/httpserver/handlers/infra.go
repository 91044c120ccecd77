package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/lbreg/internal/httpserver/deps"
)

type componentStatus struct {
	OK            bool   `json:"ok"`
	Registrations *int   `json:"registrations,omitempty"`
	Mode          string `json:"mode,omitempty"`
	Impact        string `json:"impact,omitempty"`
	Error         string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		components := map[string]componentStatus{
			"registration": checkRegistration(d),
			"journal":      checkJournal(r.Context(), d),
		}

		response := infraResponse{
			Mode:       determineMode(components),
			Components: components,
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// determineMode: a missing registration is critical, a journal outage only
// degrades restart recovery.
func determineMode(components map[string]componentStatus) string {
	if reg, exists := components["registration"]; exists && !reg.OK {
		return "critical"
	}
	if journal, exists := components["journal"]; exists && !journal.OK {
		return "degraded"
	}
	return "operational"
}

func checkRegistration(d deps.Deps) componentStatus {
	src := d.Registrations
	if src == nil || !src.Enabled() {
		return componentStatus{
			OK:   true,
			Mode: "disabled",
		}
	}

	count := len(src.Registrations())
	status := componentStatus{
		OK:            d.Ready != nil && d.Ready.Load(),
		Registrations: &count,
		Mode:          "enabled",
	}
	if !status.OK {
		status.Impact = "not-receiving-traffic"
	}
	return status
}

func checkJournal(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     true,
			Mode:   "disabled",
			Impact: "restart-recovery-disabled",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "restart-recovery-disabled",
			Error:  "timeout",
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "optimal",
		Impact: "restart-recovery-enabled",
	}
}
