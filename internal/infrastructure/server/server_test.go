package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/app"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/logging"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Kernel.HeapSize = 1 << 20
	cfg.Loader.Root = t.TempDir()
	cfg.Server.ShutdownTimeout = config.Duration(2 * time.Second)

	sys, err := app.New(cfg, app.WithLogger(&logging.Logger{Logger: zap.NewNop()}))
	require.NoError(t, err)
	sys.Start()
	t.Cleanup(sys.Close)
	return New(sys)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	h.ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	s := newServer(t)

	w := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = get(t, s.Handler(), "/modules")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, s.Handler(), "/modules/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dlkernel_modules_active")
	assert.Contains(t, w.Body.String(), "dlkernel_http_requests_total")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newServer(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, l) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + l.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestShellRoute(t *testing.T) {
	s := newServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/shell", nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "system", hello["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "exec", "line": "list_module"}))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "output", out["type"])
	assert.Contains(t, out["content"], "module")
}
