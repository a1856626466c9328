package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/lock"
	"github.com/matheus3301/huddle/internal/session"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// shortHome points HUDDLE_HOME at a short /tmp path to stay under the
// 104-char Unix socket limit on macOS.
func shortHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "hd-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("HUDDLE_HOME", dir)
	return dir
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Backend.BaseURL = baseURL
	cfg.Backend.Retries = 0
	cfg.Notify.NativeEnabled = false
	cfg.Delivery.ConnectTimeout = config.Duration{Duration: time.Second}
	cfg.Log.Level = "warn"
	return cfg
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	shortHome(t)
	p := Params{SessionName: "fxtest", Config: testConfig("http://127.0.0.1:1")}
	if err := fx.ValidateApp(Module(p)); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func healthClient(t *testing.T, socketPath string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func checkHealth(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) error = %v", service, err)
	}
	return resp.Status
}

func TestHealthReflectsDeliveryState(t *testing.T) {
	home := shortHome(t)
	socketPath := filepath.Join(home, "d.sock")

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	go func() { _ = srv.Start() }()

	c := healthClient(t, socketPath)
	if got := checkHealth(t, c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall status = %v, want SERVING", got)
	}
	if got := checkHealth(t, c, status.HealthService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("delivery status = %v, want NOT_SERVING before connecting", got)
	}

	tests := []struct {
		state status.State
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{status.Connecting, healthpb.HealthCheckResponse_NOT_SERVING},
		{status.Polling, healthpb.HealthCheckResponse_SERVING},
		{status.ConnectedPush, healthpb.HealthCheckResponse_SERVING},
		{status.Disconnected, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		srv.SetDeliveryState(tt.state)
		if got := checkHealth(t, c, status.HealthService); got != tt.want {
			t.Errorf("after %s: delivery status = %v, want %v", tt.state, got, tt.want)
		}
	}

	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("socket still present after Stop: %v", err)
	}
}

// fakeBackend answers the REST calls the daemon makes. The push endpoint is
// missing, so delivery keeps retrying push in the background.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /api/v1/messages/unread/count", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]int{"total": 3})
	})
	mux.HandleFunc("GET /api/v1/messages/unread", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"messages": []store.Message{}})
	})
	mux.HandleFunc("GET /api/v1/conversations", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"conversations": []store.Conversation{
			{ID: "c1", Kind: store.KindGroup, Name: "general", Unread: 3},
		}})
	})
	mux.HandleFunc("GET /api/v1/conversations/c1/messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"messages": []store.Message{}})
	})
	mux.HandleFunc("POST /api/v1/conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ClientID string `json:"client_id"`
			Content  string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, map[string]any{"message": store.Message{
			ID:        "srv-1",
			ClientID:  req.ClientID,
			Content:   req.Content,
			CreatedAt: time.Now(),
			Status:    store.StatusSent,
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func unixClient(socketPath string) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

func getJSON(t *testing.T, c *http.Client, path string, v any) {
	t.Helper()
	resp, err := c.Get("http://huddle" + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	shortHome(t)
	backend := fakeBackend(t)

	const name = "itest"
	app := fxtest.New(t, Module(Params{SessionName: name, Config: testConfig(backend.URL)}))
	app.RequireStart()

	if _, ok := lock.Running(session.Dir(name)); !ok {
		t.Error("session lock not held while running")
	}

	c := unixClient(session.APISocketPath(name))

	// The initial refresh seeds the unread baseline and loads conversations.
	eventually(t, "unread total from backend", func() bool {
		var snap store.Snapshot
		getJSON(t, c, "/v1/state", &snap)
		return snap.UnreadTotal == 3 && len(snap.Conversations) == 1
	})

	resp, err := c.Post("http://huddle/v1/messages", "application/json",
		strings.NewReader(`{"conversation_id":"c1","content":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d, want 202", resp.StatusCode)
	}

	eventually(t, "server copy replacing the optimistic message", func() bool {
		var page struct {
			Messages []store.Message `json:"messages"`
		}
		getJSON(t, c, "/v1/conversations/c1/messages", &page)
		return len(page.Messages) == 1 && page.Messages[0].ID == "srv-1" && page.Messages[0].Status == store.StatusSent
	})

	hc := healthClient(t, session.SocketPath(name))
	if got := checkHealth(t, hc, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall status = %v, want SERVING", got)
	}

	app.RequireStop()

	if _, err := lock.ReadHolder(session.Dir(name)); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("lock file still present after stop: %v", err)
	}
	if _, err := os.Stat(session.APISocketPath(name)); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("api socket still present after stop: %v", err)
	}
}
