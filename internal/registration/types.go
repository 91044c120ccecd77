package registration

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/lbreg/internal/controlplane"
)

// Registration is one server entry this instance created on a control-plane endpoint.
type Registration struct {
	Endpoint     string    `json:"endpoint"`
	ServerID     int64     `json:"server_id"`
	HasID        bool      `json:"has_id"` // ServerID is meaningful (0 is a valid id)
	Server       string    `json:"server"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ControlPlane is the subset of the control-plane API the manager needs.
// *controlplane.Client implements it.
type ControlPlane interface {
	List(ctx context.Context, endpoint, upstream string) ([]controlplane.Server, error)
	Create(ctx context.Context, endpoint, upstream, server string) (controlplane.Server, error)
	Delete(ctx context.Context, endpoint, upstream string, id int64) error
}

// Journal persists registrations outside the process so that a restarted
// instance can find entries a previous run left behind.
// Implementations are scoped to one upstream group and instance.
type Journal interface {
	Record(ctx context.Context, reg Registration) error
	Forget(ctx context.Context, endpoint string) error
	Entries(ctx context.Context) ([]Registration, error)
}
