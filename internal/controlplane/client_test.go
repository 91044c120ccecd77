package controlplane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServersURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		expected string
	}{
		{
			name:     "trailing slash",
			endpoint: "http://lb1/",
			expected: "http://lb1/api/4/http/upstreams/app/servers",
		},
		{
			name:     "no trailing slash",
			endpoint: "http://lb1",
			expected: "http://lb1/api/4/http/upstreams/app/servers",
		},
		{
			name:     "base path is kept",
			endpoint: "https://lb.example.com:8443/nginx/",
			expected: "https://lb.example.com:8443/nginx/api/4/http/upstreams/app/servers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ServersURL(tt.endpoint, "app")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestServerURL(t *testing.T) {
	got, err := ServerURL("http://lb1//", "app", 7)
	require.NoError(t, err)
	assert.Equal(t, "http://lb1/api/4/http/upstreams/app/servers/7", got)
}

func TestJoinURLRejectsRelative(t *testing.T) {
	_, err := ServersURL("lb1/admin", "app")
	assert.Error(t, err)
}

func TestClientList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/4/http/upstreams/app/servers", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"server":"10.0.0.4:8080"},{"id":2,"server":"10.0.0.5:8080","weight":1}]`))
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second})
	servers, err := c.List(context.Background(), srv.URL, "app")
	require.NoError(t, err)
	require.Len(t, servers, 2)
	require.NotNil(t, servers[1].ID)
	assert.Equal(t, int64(2), *servers[1].ID)
	assert.Equal(t, "10.0.0.5:8080", servers[1].Server)
}

func TestClientCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "lbreg/test", r.Header.Get("User-Agent"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req createRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "10.0.0.5:8080", req.Server)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7,"server":"10.0.0.5:8080"}`))
	}))
	defer srv.Close()

	c := New(Options{UserAgent: "lbreg/test"})
	created, err := c.Create(context.Background(), srv.URL+"/", "app", "10.0.0.5:8080")
	require.NoError(t, err)
	require.NotNil(t, created.ID)
	assert.Equal(t, int64(7), *created.ID)
}

func TestClientCreateWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	created, err := New(Options{}).Create(context.Background(), srv.URL, "app", "10.0.0.5:8080")
	require.NoError(t, err)
	assert.Nil(t, created.ID)
	assert.Equal(t, "10.0.0.5:8080", created.Server)
}

func TestClientDelete(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := New(Options{}).Delete(context.Background(), srv.URL, "app", 7)
	require.NoError(t, err)
	assert.Equal(t, "/api/4/http/upstreams/app/servers/7", gotPath)
}

func TestClientStatusError(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		expectedText string
		expectedCode string
		notFound     bool
	}{
		{
			name:         "nginx error body",
			status:       http.StatusNotFound,
			body:         `{"error":{"status":404,"text":"server not found","code":"UpstreamServerNotFound"}}`,
			expectedText: "server not found",
			expectedCode: "UpstreamServerNotFound",
			notFound:     true,
		},
		{
			name:         "plain body",
			status:       http.StatusBadGateway,
			body:         "bad gateway\n",
			expectedText: "bad gateway",
		},
		{
			name:   "empty body",
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := New(Options{}).Delete(context.Background(), srv.URL, "app", 1)
			require.Error(t, err)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.expectedText, se.Text)
			assert.Equal(t, tt.expectedCode, se.Code)
			assert.Equal(t, tt.notFound, IsNotFound(err))
		})
	}
}

func TestClientMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := New(Options{}).List(context.Background(), srv.URL, "app")
	assert.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := New(Options{Timeout: time.Second}).List(context.Background(), addr, "app")
	assert.Error(t, err)
}
