package gateway_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-wordpress-gateway/gateway"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/engine"
	"github.com/ggoodman/mcp-wordpress-gateway/mcpservice"
	"github.com/stretchr/testify/require"
)

const initBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`

// syncBuffer guards a bytes.Buffer written by concurrent handlers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newGateway(t *testing.T, opts ...gateway.Option) (*httptest.Server, *gateway.Gateway) {
	t.Helper()
	reg, err := mcpservice.NewRegistry(mcpservice.Command{
		Name: "echo",
		Params: []mcpservice.Param{
			mcpservice.String("text", mcpservice.Required()),
		},
		Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
			return map[string]string{"text": args.String("text")}, nil
		},
	})
	require.NoError(t, err)
	gw := gateway.New(engine.NewEngine(mcpservice.NewDispatcher(reg)), opts...)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return srv, gw
}

type health struct {
	Status   string `json:"status"`
	Sessions struct {
		Streamable int `json:"streamable"`
		SSE        int `json:"sse"`
	} `json:"sessions"`
}

func getHealth(t *testing.T, srv *httptest.Server) health {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var h health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	return h
}

func openLegacyStream(t *testing.T, srv *httptest.Server) (*http.Response, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	br := bufio.NewReader(resp.Body)
	var endpoint string
	for endpoint == "" {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			endpoint = rest
		}
	}
	return resp, endpoint
}

func TestHealthCountsSessions(t *testing.T) {
	srv, gw := newGateway(t)

	h := getHealth(t, srv)
	require.Equal(t, "ok", h.Status)
	require.Zero(t, h.Sessions.Streamable)
	require.Zero(t, h.Sessions.SSE)

	for range 2 {
		resp, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(initBody))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	_, endpoint := openLegacyStream(t, srv)
	require.True(t, strings.HasPrefix(endpoint, "/messages?sessionId="), endpoint)

	h = getHealth(t, srv)
	require.Equal(t, 2, h.Sessions.Streamable)
	require.Equal(t, 1, h.Sessions.SSE)
	require.Equal(t, gateway.SessionCounts{Streamable: 2, SSE: 1}, gw.Sessions())
}

func TestRouting(t *testing.T) {
	srv, _ := newGateway(t)

	resp, err := srv.Client().Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = srv.Client().Post(srv.URL+"/health", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	// Both transports answer on their own paths.
	resp, err = srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = srv.Client().Post(srv.URL+"/messages?sessionId=missing", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestsCarryRequestID(t *testing.T) {
	var logs syncBuffer
	log := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv, _ := newGateway(t, gateway.WithLogger(log))

	resp, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(initBody))
	require.NoError(t, err)
	resp.Body.Close()

	var sawInit bool
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var rec struct {
			Msg string `json:"msg"`
			Req struct {
				ID   string `json:"id"`
				Path string `json:"path"`
			} `json:"req"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		require.NotEmpty(t, rec.Req.ID, line)
		require.Equal(t, "/mcp", rec.Req.Path)
		if rec.Msg == "session.initialize.ok" {
			sawInit = true
		}
	}
	require.True(t, sawInit, logs.String())
}

func TestShutdownEndsSessions(t *testing.T) {
	srv, gw := newGateway(t, gateway.WithKeepAlive(10*time.Millisecond))

	resp, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(initBody))
	require.NoError(t, err)
	resp.Body.Close()
	stream, _ := openLegacyStream(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))
	require.Equal(t, gateway.SessionCounts{}, gw.Sessions())

	// The legacy stream ends once its session is gone.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = bufio.NewReader(stream.Body).ReadString(0)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("legacy stream still open after shutdown")
	}
}

func TestRunReapsIdleSessions(t *testing.T) {
	srv, gw := newGateway(t, gateway.WithIdleTTL(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = gw.Run(ctx) }()

	resp, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(initBody))
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool { return gw.Sessions().Streamable == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownLetsInflightCallsFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	reg, err := mcpservice.NewRegistry(mcpservice.Command{
		Name: "wait",
		Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
			close(started)
			select {
			case <-release:
				return map[string]string{"status": "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	require.NoError(t, err)
	gw := gateway.New(engine.NewEngine(mcpservice.NewDispatcher(reg)))
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(initBody))
	require.NoError(t, err)
	resp.Body.Close()
	sessID := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, sessID)

	type callResult struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	results := make(chan callResult, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"wait","arguments":{}}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Mcp-Session-Id", sessID)
		var out callResult
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Errorf("call: %v", err)
		} else {
			defer resp.Body.Close()
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Errorf("decode: %v", err)
			}
		}
		results <- out
	}()
	<-started

	// Same order as the binary: end the sessions, then drain the server.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))
	drained := make(chan error, 1)
	go func() { drained <- srv.Config.Shutdown(ctx) }()
	fresh := &http.Client{Transport: &http.Transport{}}
	require.Eventually(t, func() bool {
		resp, err := fresh.Get(srv.URL + "/health")
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	res := <-results
	require.False(t, res.Result.IsError)
	require.Len(t, res.Result.Content, 1)
	require.Contains(t, res.Result.Content[0].Text, "done")
	require.NoError(t, <-drained)
}
