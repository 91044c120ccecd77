package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/lbreg/internal/config"
	"github.com/MrSnakeDoc/lbreg/internal/controlplane"
	"github.com/MrSnakeDoc/lbreg/internal/logger"
)

const selfAddr = "10.0.0.5:8080"

// controlPlane is an in-memory upstream-servers API. It records every call
// and, for deletes, what the instance's /readyz answered at that moment.
type controlPlane struct {
	mu       sync.Mutex
	servers  []controlplane.Server
	nextID   int64
	failPost bool
	events   []string

	// readyz is called on every DELETE when set.
	readyz func() int
}

func newControlPlane(t *testing.T) (*controlPlane, *httptest.Server) {
	t.Helper()
	cp := &controlPlane{nextID: 1}

	r := chi.NewRouter()
	r.Get("/api/4/http/upstreams/{upstream}/servers", func(w http.ResponseWriter, r *http.Request) {
		cp.mu.Lock()
		defer cp.mu.Unlock()
		cp.events = append(cp.events, "GET")
		_ = json.NewEncoder(w).Encode(cp.servers)
	})
	r.Post("/api/4/http/upstreams/{upstream}/servers", func(w http.ResponseWriter, r *http.Request) {
		cp.mu.Lock()
		defer cp.mu.Unlock()
		cp.events = append(cp.events, "POST")
		if cp.failPost {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"status":500,"text":"boom","code":"Internal"}}`))
			return
		}
		var body struct {
			Server string `json:"server"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := cp.nextID
		cp.nextID++
		entry := controlplane.Server{ID: &id, Server: body.Server}
		cp.servers = append(cp.servers, entry)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(entry)
	})
	r.Delete("/api/4/http/upstreams/{upstream}/servers/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

		status := 0
		if cp.readyz != nil {
			status = cp.readyz()
		}

		cp.mu.Lock()
		defer cp.mu.Unlock()
		cp.events = append(cp.events, fmt.Sprintf("DELETE readyz=%d", status))
		for i, s := range cp.servers {
			if *s.ID == id {
				cp.servers = append(cp.servers[:i:i], cp.servers[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return cp, srv
}

func (cp *controlPlane) snapshot() ([]string, []controlplane.Server) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	events := append([]string(nil), cp.events...)
	servers := append([]controlplane.Server(nil), cp.servers...)
	return events, servers
}

func newTestApp(t *testing.T, endpoint string) *App {
	t.Helper()
	cfg := &config.Config{
		ListenPort:          "127.0.0.1:0",
		ShutdownTimeout:     2 * time.Second,
		Enabled:             true,
		Endpoints:           []string{endpoint},
		Upstream:            "app",
		SelfAddr:            selfAddr,
		ControlPlaneTimeout: 2 * time.Second,
	}
	a, err := newApp(cfg, logger.NewNop(), nil)
	require.NoError(t, err)
	return a
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func readyzOf(addr string) func() int {
	client := &http.Client{Timeout: time.Second}
	return func() int {
		resp, err := client.Get("http://" + addr + "/readyz")
		if err != nil {
			return 0
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode
	}
}

func runAsync(ctx context.Context, a *App, ln net.Listener) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, ln) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
		return nil
	}
}

func assertStopped(t *testing.T, addr string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return true
		}
		_ = conn.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond, "server should be stopped")
}

func TestRunRegistersThenDeregistersOnShutdown(t *testing.T) {
	cp, srv := newControlPlane(t)
	a := newTestApp(t, srv.URL+"/")
	ln := listen(t)
	addr := ln.Addr().String()
	cp.readyz = readyzOf(addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, a, ln)

	require.Eventually(t, a.ready.Load, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusOK, readyzOf(addr)())
	_, servers := cp.snapshot()
	require.Len(t, servers, 1)
	assert.Equal(t, selfAddr, servers[0].Server)

	cancel()
	require.NoError(t, wait(t, done))

	events, servers := cp.snapshot()
	assert.Empty(t, servers)
	// the listener is still up during deregistration and already answers 503
	assert.Equal(t, []string{"GET", "POST", "DELETE readyz=503"}, events)
	assert.Empty(t, a.manager.Registrations())

	assertStopped(t, addr)
}

func TestRunStartFailureStopsServer(t *testing.T) {
	cp, srv := newControlPlane(t)
	cp.failPost = true
	a := newTestApp(t, srv.URL+"/")
	ln := listen(t)
	addr := ln.Addr().String()

	err := wait(t, runAsync(context.Background(), a, ln))

	require.Error(t, err)
	var se *controlplane.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.False(t, a.ready.Load())

	// pre-clean, the failed create, then the check for an unconfirmed entry
	events, servers := cp.snapshot()
	assert.Empty(t, servers)
	assert.Equal(t, []string{"GET", "POST", "GET"}, events)

	assertStopped(t, addr)
}

func TestRunServerFailureStillDeregisters(t *testing.T) {
	cp, srv := newControlPlane(t)
	a := newTestApp(t, srv.URL+"/")
	ln := listen(t)

	var readyAtDelete []bool
	var mu sync.Mutex
	cp.readyz = func() int {
		mu.Lock()
		readyAtDelete = append(readyAtDelete, a.ready.Load())
		mu.Unlock()
		return 0
	}

	done := runAsync(context.Background(), a, ln)
	require.Eventually(t, a.ready.Load, 2*time.Second, 10*time.Millisecond)

	// the accept loop dies without a shutdown
	require.NoError(t, ln.Close())

	err := wait(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http server error")

	events, servers := cp.snapshot()
	assert.Empty(t, servers)
	assert.Contains(t, events, "DELETE readyz=0")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false}, readyAtDelete)
}
