package streaminghttp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-wordpress-gateway/internal/engine"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/jsonrpc"
	"github.com/ggoodman/mcp-wordpress-gateway/mcp"
	"github.com/ggoodman/mcp-wordpress-gateway/mcpservice"
	"github.com/ggoodman/mcp-wordpress-gateway/streaminghttp"
)

const initBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0.0"}}}`

func mustServer(t *testing.T, opts ...streaminghttp.Option) (*httptest.Server, *streaminghttp.StreamingHTTPHandler) {
	t.Helper()
	reg, err := mcpservice.NewRegistry(mcpservice.Command{
		Name:        "getPost",
		Description: "Fetch a post",
		Params:      []mcpservice.Param{mcpservice.Integer("id", mcpservice.Required(), mcpservice.Minimum(1))},
		Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
			return map[string]any{"id": args.Int("id")}, nil
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := streaminghttp.New(engine.NewEngine(mcpservice.NewDispatcher(reg)), opts...)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, h
}

func doPostMCP(t *testing.T, srv *httptest.Server, sessionID, contentType, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func mustPostMCP(t *testing.T, srv *httptest.Server, sessionID, body string) (*http.Response, *jsonrpc.Response) {
	t.Helper()
	resp := doPostMCP(t, srv, sessionID, "application/json", body)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status: want %d got %d: %s", http.StatusOK, resp.StatusCode, b)
	}
	var res jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, &res
}

func mustInitialize(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, res := mustPostMCP(t, srv, "", initBody)
	if res.Error != nil {
		t.Fatalf("initialize error: %+v", res.Error)
	}
	sessID := resp.Header.Get("mcp-session-id")
	if sessID == "" {
		t.Fatalf("missing mcp-session-id header")
	}
	return sessID
}

func doRequest(t *testing.T, srv *httptest.Server, method, sessionID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func errorBody(t *testing.T, resp *http.Response) (int, string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code, body.Error.Message
}

func TestInitialize(t *testing.T) {
	t.Run("creates a session and negotiates the version", func(t *testing.T) {
		srv, h := mustServer(t)
		resp, res := mustPostMCP(t, srv, "", initBody)
		if res.Error != nil {
			t.Fatalf("initialize error: %+v", res.Error)
		}
		if resp.Header.Get("Mcp-Session-Id") == "" {
			t.Fatalf("missing mcp-session-id header")
		}
		if got := resp.Header.Get("Mcp-Protocol-Version"); got != "2025-06-18" {
			t.Fatalf("protocol version header: %q", got)
		}
		var initRes mcp.InitializeResult
		if err := json.Unmarshal(res.Result, &initRes); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if initRes.Capabilities.Tools == nil {
			t.Fatalf("expected tools capability, got %#v", initRes.Capabilities)
		}
		if h.Len() != 1 {
			t.Fatalf("expected 1 session, got %d", h.Len())
		}
	})

	t.Run("unknown version falls back to latest", func(t *testing.T) {
		srv, _ := mustServer(t)
		_, res := mustPostMCP(t, srv, "", strings.Replace(initBody, "2025-06-18", "2023-01-01", 1))
		var initRes mcp.InitializeResult
		if err := json.Unmarshal(res.Result, &initRes); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if initRes.ProtocolVersion != mcp.LatestProtocolVersion {
			t.Fatalf("negotiated %q", initRes.ProtocolVersion)
		}
	})

	t.Run("first message must be initialize", func(t *testing.T) {
		srv, h := mustServer(t)
		resp := doPostMCP(t, srv, "", "application/json", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("want 400 got %d", resp.StatusCode)
		}
		if code, _ := errorBody(t, resp); code != http.StatusBadRequest {
			t.Fatalf("error code %d", code)
		}
		if h.Len() != 0 {
			t.Fatalf("session created for rejected request")
		}
	})

	t.Run("invalid params create no session", func(t *testing.T) {
		srv, h := mustServer(t)
		resp, res := mustPostMCP(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
		if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
			t.Fatalf("want invalid params, got %+v", res.Error)
		}
		if resp.Header.Get("Mcp-Session-Id") != "" || h.Len() != 0 {
			t.Fatalf("session created for invalid initialize")
		}
	})

	t.Run("redundant initialize conflicts", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)
		resp := doPostMCP(t, srv, sessID, "application/json", initBody)
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("want 409 got %d", resp.StatusCode)
		}
	})
}

func TestPostRejections(t *testing.T) {
	srv, h := mustServer(t)
	sessID := mustInitialize(t, srv)

	cases := []struct {
		name        string
		sessionID   string
		contentType string
		body        string
		want        int
	}{
		{"wrong content type", sessID, "text/plain", `{"jsonrpc":"2.0","id":2,"method":"ping"}`, http.StatusUnsupportedMediaType},
		{"batch", sessID, "application/json", `[{"jsonrpc":"2.0","id":2,"method":"ping"}]`, http.StatusBadRequest},
		{"malformed", sessID, "application/json", `{"jsonrpc":`, http.StatusBadRequest},
		{"wrong jsonrpc version", sessID, "application/json", `{"jsonrpc":"1.0","id":2,"method":"ping"}`, http.StatusBadRequest},
		{"unknown session", "does-not-exist", "application/json", `{"jsonrpc":"2.0","id":2,"method":"ping"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doPostMCP(t, srv, tc.sessionID, tc.contentType, tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("want %d got %d", tc.want, resp.StatusCode)
			}
			if code, msg := errorBody(t, resp); code != tc.want || msg == "" {
				t.Fatalf("unexpected error body: %d %q", code, msg)
			}
		})
	}

	if h.Len() != 1 {
		t.Fatalf("rejections must not create sessions, have %d", h.Len())
	}
}

func TestRequests(t *testing.T) {
	srv, _ := mustServer(t)
	sessID := mustInitialize(t, srv)

	resp := doPostMCP(t, srv, sessID, "application/json", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("initialized note status: %d", resp.StatusCode)
	}

	_, res := mustPostMCP(t, srv, sessID, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	var list mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "getPost" {
		t.Fatalf("unexpected tools: %+v", list.Tools)
	}

	resp, res = mustPostMCP(t, srv, sessID, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"getPost","arguments":{"id":5}}}`)
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content type %q", resp.Header.Get("Content-Type"))
	}
	var call mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &call); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if call.IsError || call.Content[0].Text != "{\n  \"id\": 5\n}" {
		t.Fatalf("unexpected call result: %+v", call)
	}

	// Validation failures travel inside a 200 result.
	_, res = mustPostMCP(t, srv, sessID, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"getPost","arguments":{"id":-1}}}`)
	call = mcp.CallToolResult{}
	if err := json.Unmarshal(res.Result, &call); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if !call.IsError || call.Content[0].Text != "invalid parameters: id: must be at least 1" {
		t.Fatalf("unexpected call result: %+v", call)
	}

	_, res = mustPostMCP(t, srv, sessID, `{"jsonrpc":"2.0","id":5,"method":"prompts/list"}`)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("want method not found, got %+v", res.Error)
	}
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	srv, h := mustServer(t)

	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(initBody))
			req.Header.Set("Content-Type", "application/json")
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Errorf("post: %v", err)
				return
			}
			resp.Body.Close()
			ids <- resp.Header.Get("Mcp-Session-Id")
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty session id %q", id)
		}
		seen[id] = true
	}
	if h.Len() != 20 {
		t.Fatalf("want 20 sessions, got %d", h.Len())
	}
}

func TestDelete(t *testing.T) {
	srv, h := mustServer(t)
	sessID := mustInitialize(t, srv)

	if resp := doRequest(t, srv, http.MethodDelete, sessID); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: want 204 got %d", resp.StatusCode)
	}
	if h.Len() != 0 {
		t.Fatalf("session not removed")
	}
	if resp := doRequest(t, srv, http.MethodDelete, sessID); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: want 404 got %d", resp.StatusCode)
	}
	resp := doPostMCP(t, srv, sessID, "application/json", `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("post after delete: want 404 got %d", resp.StatusCode)
	}
	if resp := doRequest(t, srv, http.MethodDelete, ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("delete without header: want 400 got %d", resp.StatusCode)
	}
}

type sseEvent struct {
	data string
}

func readOneSSE(br *bufio.Reader) (sseEvent, error) {
	var data []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "" && len(data) > 0:
			return sseEvent{data: strings.Join(data, "\n")}, nil
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

func startGetStream(t *testing.T, srv *httptest.Server, sessionID string) (*http.Response, <-chan sseEvent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: want 200 got %d", resp.StatusCode)
	}

	ch := make(chan sseEvent, 16)
	go func() {
		defer close(ch)
		br := bufio.NewReader(resp.Body)
		for {
			ev, err := readOneSSE(br)
			if err != nil {
				return
			}
			ch <- ev
		}
	}()
	return resp, ch
}

func TestGetStream(t *testing.T) {
	t.Run("delivers progress for calls with a token", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)
		_, events := startGetStream(t, srv, sessID)

		_, res := mustPostMCP(t, srv, sessID, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"getPost","arguments":{"id":1},"_meta":{"progressToken":"p-1"}}}`)
		if res.Error != nil {
			t.Fatalf("call error: %+v", res.Error)
		}

		var got []float64
		for len(got) < 2 {
			select {
			case ev, ok := <-events:
				if !ok {
					t.Fatalf("stream closed early")
				}
				var note jsonrpc.Request
				if err := json.Unmarshal([]byte(ev.data), &note); err != nil {
					t.Fatalf("decode note: %v", err)
				}
				if note.Method != string(mcp.ProgressNotificationMethod) {
					t.Fatalf("unexpected method %q", note.Method)
				}
				var p mcp.ProgressNotificationParams
				if err := json.Unmarshal(note.Params, &p); err != nil {
					t.Fatalf("decode params: %v", err)
				}
				if p.ProgressToken != "p-1" {
					t.Fatalf("token %v", p.ProgressToken)
				}
				got = append(got, p.Progress)
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for progress, got %v", got)
			}
		}
		if got[0] != 0 || got[1] != 1 {
			t.Fatalf("unexpected progress sequence %v", got)
		}
	})

	t.Run("second stream conflicts", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)
		startGetStream(t, srv, sessID)
		if resp := doRequest(t, srv, http.MethodGet, sessID); resp.StatusCode != http.StatusConflict {
			t.Fatalf("want 409 got %d", resp.StatusCode)
		}
	})

	t.Run("delete ends the stream", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)
		_, events := startGetStream(t, srv, sessID)
		doRequest(t, srv, http.MethodDelete, sessID)
		select {
		case _, ok := <-events:
			if ok {
				t.Fatalf("unexpected event")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("stream still open after delete")
		}
	})

	t.Run("keepalive comments", func(t *testing.T) {
		srv, _ := mustServer(t, streaminghttp.WithKeepAlive(10*time.Millisecond))
		sessID := mustInitialize(t, srv)
		resp := doRequest(t, srv, http.MethodGet, sessID)
		br := bufio.NewReader(resp.Body)
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.HasPrefix([]byte(line), []byte(": keepalive")) {
			t.Fatalf("unexpected line %q", line)
		}
	})

	t.Run("requires event-stream accept and a known session", func(t *testing.T) {
		srv, _ := mustServer(t)
		sessID := mustInitialize(t, srv)

		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/mcp", nil)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Mcp-Session-Id", sessID)
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotAcceptable {
			t.Fatalf("want 406 got %d", resp.StatusCode)
		}
		if resp := doRequest(t, srv, http.MethodGet, "nope"); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("want 404 got %d", resp.StatusCode)
		}
	})
}

func TestIdleSessionsAreReaped(t *testing.T) {
	srv, h := mustServer(t, streaminghttp.WithIdleTTL(60*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	idle := mustInitialize(t, srv)
	busy := mustInitialize(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for id := 2; h.Len() > 1; id++ {
		if time.Now().After(deadline) {
			t.Fatalf("idle session was never reaped")
		}
		mustPostMCP(t, srv, busy, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, id))
		time.Sleep(5 * time.Millisecond)
	}

	resp := doPostMCP(t, srv, idle, "application/json", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("idle session: want 404 got %d", resp.StatusCode)
	}
	mustPostMCP(t, srv, busy, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
}
