package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/lbreg/internal/httpserver/deps"
)

type registrationEntry struct {
	Endpoint     string `json:"endpoint"`
	ServerID     *int64 `json:"server_id,omitempty"`
	Server       string `json:"server"`
	RegisteredAt string `json:"registered_at"`
}

type registrationsResponse struct {
	Enabled       bool                `json:"enabled"`
	Upstream      string              `json:"upstream,omitempty"`
	SelfAddress   string              `json:"self_address,omitempty"`
	Registrations []registrationEntry `json:"registrations"`
}

// Registrations lists the server entries this instance currently holds.
func Registrations(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := registrationsResponse{Registrations: []registrationEntry{}}

		if src := d.Registrations; src != nil && src.Enabled() {
			resp.Enabled = true
			resp.Upstream = src.Upstream()
			resp.SelfAddress, _ = src.SelfAddress()

			for _, reg := range src.Registrations() {
				entry := registrationEntry{
					Endpoint:     reg.Endpoint,
					Server:       reg.Server,
					RegisteredAt: reg.RegisteredAt.UTC().Format(time.RFC3339),
				}
				if reg.HasID {
					id := reg.ServerID
					entry.ServerID = &id
				}
				resp.Registrations = append(resp.Registrations, entry)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
