package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/cpu"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/testutil/elfgen"
)

type reply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Prompt  string `json:"prompt"`
	Content string `json:"content"`
	Module  string `json:"module"`
	Code    int    `json:"code"`
}

func dial(t *testing.T) (*websocket.Conn, chan struct{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	release := make(chan struct{})

	tab, err := symtab.New(append(symtab.Exports(),
		symtab.Export{Name: "test_block", Fn: func(context.Context, ...any) int {
			<-release
			return 5
		}},
	)...)
	require.NoError(t, err)
	k := kernel.New(kernel.Config{HeapSize: 1 << 20})
	k.Start()
	t.Cleanup(k.Stop)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})
	mgr := dlmodule.NewManager(k, cpu.New(tab, k.Heap(), true)).WithFS(fstest.MapFS{
		"bin/daemon.mo": {Data: elfgen.Program("test_block").Build()},
	})

	r := gin.New()
	r.GET("/shell", NewHandler(mgr, nil, 2*time.Second).HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/shell", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello reply
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "system", hello.Type)
	assert.Equal(t, "msh />", hello.Prompt)
	return conn, release
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg Message) reply {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	var r reply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func TestExecAndWait(t *testing.T) {
	conn, release := dial(t)

	r := roundTrip(t, conn, Message{Type: "exec", Line: "exec bin/daemon.mo"})
	assert.Equal(t, "output", r.Type)
	assert.Equal(t, 0, r.Code)
	assert.Equal(t, "module daemon started\n", r.Content)

	r = roundTrip(t, conn, Message{Type: "exec", Line: "list_module"})
	assert.Contains(t, r.Content, "daemon")

	require.NoError(t, conn.WriteJSON(Message{Type: "wait", Module: "daemon", Timeout: "1s"}))
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, "exited", r.Type)
	assert.Equal(t, 5, r.Code)
}

func TestUnknownCommandAndPing(t *testing.T) {
	conn, _ := dial(t)

	r := roundTrip(t, conn, Message{Type: "exec", Line: "reboot"})
	assert.Equal(t, 1, r.Code)
	assert.Equal(t, "reboot: command not found.\n", r.Content)

	assert.Equal(t, "pong", roundTrip(t, conn, Message{Type: "ping"}).Type)

	r = roundTrip(t, conn, Message{Type: "bogus"})
	assert.Equal(t, "error", r.Type)
	assert.Equal(t, "unknown message type", r.Message)
}

func TestWaitErrors(t *testing.T) {
	conn, _ := dial(t)

	r := roundTrip(t, conn, Message{Type: "wait", Module: "ghost"})
	assert.Equal(t, "module not found", r.Message)

	roundTrip(t, conn, Message{Type: "exec", Line: "exec bin/daemon.mo"})
	r = roundTrip(t, conn, Message{Type: "wait", Module: "daemon", Timeout: "nope"})
	assert.Equal(t, "invalid timeout", r.Message)

	r = roundTrip(t, conn, Message{Type: "wait", Module: "daemon", Timeout: "20ms"})
	assert.Equal(t, "error", r.Type)
	assert.Contains(t, r.Message, "deadline")
}

func TestLineTooLong(t *testing.T) {
	conn, _ := dial(t)

	r := roundTrip(t, conn, Message{Type: "exec", Line: strings.Repeat("x", MaxLine+1)})
	assert.Equal(t, "command line too long", r.Message)
}
