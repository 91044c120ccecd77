package registration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/MrSnakeDoc/lbreg/internal/controlplane"
)

var errNetwork = errors.New("dial tcp: connection refused")

type call struct {
	Method   string
	Endpoint string
	ID       int64
}

// fakeControlPlane keeps per-endpoint server lists and records every call.
type fakeControlPlane struct {
	mu      sync.Mutex
	servers map[string][]controlplane.Server
	nextID  map[string]int64
	calls   []call

	// failures keyed by "METHOD endpoint"
	failures map[string]error
	// endpoints whose Create response carries no id
	noID map[string]bool
	// endpoints whose Create stores the entry and still returns the error
	lostResponse map[string]error
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		servers:  make(map[string][]controlplane.Server),
		nextID:   make(map[string]int64),
		failures: make(map[string]error),
		noID:     make(map[string]bool),

		lostResponse: make(map[string]error),
	}
}

func (f *fakeControlPlane) fail(method, endpoint string, err error) {
	f.failures[method+" "+endpoint] = err
}

func (f *fakeControlPlane) seed(endpoint string, id int64, server string) {
	f.servers[endpoint] = append(f.servers[endpoint], controlplane.Server{ID: &id, Server: server})
	if f.nextID[endpoint] <= id {
		f.nextID[endpoint] = id + 1
	}
}

func (f *fakeControlPlane) setNextID(endpoint string, id int64) {
	f.nextID[endpoint] = id
}

func (f *fakeControlPlane) List(_ context.Context, endpoint, _ string) ([]controlplane.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: http.MethodGet, Endpoint: endpoint})
	if err := f.failures[http.MethodGet+" "+endpoint]; err != nil {
		return nil, err
	}
	out := make([]controlplane.Server, len(f.servers[endpoint]))
	copy(out, f.servers[endpoint])
	return out, nil
}

func (f *fakeControlPlane) Create(_ context.Context, endpoint, _, server string) (controlplane.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: http.MethodPost, Endpoint: endpoint})
	if err := f.failures[http.MethodPost+" "+endpoint]; err != nil {
		return controlplane.Server{}, err
	}
	id := f.nextID[endpoint]
	f.nextID[endpoint] = id + 1
	entry := controlplane.Server{ID: &id, Server: server}
	f.servers[endpoint] = append(f.servers[endpoint], entry)
	if err := f.lostResponse[endpoint]; err != nil {
		return controlplane.Server{}, err
	}
	if f.noID[endpoint] {
		return controlplane.Server{Server: server}, nil
	}
	return entry, nil
}

func (f *fakeControlPlane) Delete(_ context.Context, endpoint, _ string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: http.MethodDelete, Endpoint: endpoint, ID: id})
	if err := f.failures[http.MethodDelete+" "+endpoint]; err != nil {
		return err
	}
	list := f.servers[endpoint]
	for i, s := range list {
		if *s.ID == id {
			f.servers[endpoint] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return &controlplane.StatusError{
		Method:     http.MethodDelete,
		URL:        fmt.Sprintf("%s/servers/%d", endpoint, id),
		StatusCode: http.StatusNotFound,
		Text:       "server not found",
	}
}

func (f *fakeControlPlane) callsOf(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeControlPlane) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeControlPlane) entries(endpoint string) []controlplane.Server {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]controlplane.Server, len(f.servers[endpoint]))
	copy(out, f.servers[endpoint])
	return out
}

type mockJournal struct {
	mock.Mock
}

func (m *mockJournal) Record(ctx context.Context, reg Registration) error {
	args := m.Called(ctx, reg)
	return args.Error(0)
}

func (m *mockJournal) Forget(ctx context.Context, endpoint string) error {
	args := m.Called(ctx, endpoint)
	return args.Error(0)
}

func (m *mockJournal) Entries(ctx context.Context) ([]Registration, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Registration), args.Error(1)
}
