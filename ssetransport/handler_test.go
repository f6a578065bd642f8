package ssetransport_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/ggoodman/mcp-wordpress-gateway/ssetransport"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	event string
	data  string
}

// readEvent returns the next event, skipping keepalive comments.
func readEvent(br *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	var data []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if ev.event != "" || len(data) > 0 {
				ev.data = strings.Join(data, "\n")
				return ev, nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

type stream struct {
	t        *testing.T
	br       *bufio.Reader
	cancel   context.CancelFunc
	endpoint string
}

func openStream(t *testing.T, srv *httptest.Server) *stream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})

	s := &stream{t: t, br: bufio.NewReader(resp.Body), cancel: cancel}
	ev, err := readEvent(s.br)
	require.NoError(t, err)
	require.Equal(t, "endpoint", ev.event)
	require.True(t, strings.HasPrefix(ev.data, "/messages?sessionId="), ev.data)
	s.endpoint = ev.data
	return s
}

func (s *stream) sessionID() string {
	return strings.TrimPrefix(s.endpoint, "/messages?sessionId=")
}

// next reads the next message event and decodes it as a JSON-RPC response.
func (s *stream) next() *jsonrpc.Response {
	s.t.Helper()
	ev, err := readEvent(s.br)
	require.NoError(s.t, err)
	require.Equal(s.t, "message", ev.event)
	var res jsonrpc.Response
	require.NoError(s.t, json.Unmarshal([]byte(ev.data), &res))
	return &res
}

func post(t *testing.T, srv *httptest.Server, path string, body string) *http.Response {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func callBody(id int, tool string, args string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, id, tool, args)
}

func newServer(t *testing.T, cmds ...mcpservice.Command) (*httptest.Server, *ssetransport.Handler) {
	t.Helper()
	cmds = append(cmds, mcpservice.Command{
		Name: "sleep",
		Params: []mcpservice.Param{
			mcpservice.Integer("n", mcpservice.Required()),
			mcpservice.Integer("ms", mcpservice.Minimum(0), mcpservice.Default(0)),
		},
		Handler: func(ctx context.Context, args mcpservice.Args) (any, error) {
			select {
			case <-time.After(time.Duration(args.Int("ms")) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return map[string]any{"n": args.Int("n")}, nil
		},
	})
	reg, err := mcpservice.NewRegistry(cmds...)
	require.NoError(t, err)
	eng := engine.NewEngine(mcpservice.NewDispatcher(reg))
	h := ssetransport.New(eng, ssetransport.WithKeepAlive(10*time.Millisecond))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, h
}

func TestStreamAnnouncesEndpoint(t *testing.T) {
	srv, h := newServer(t)
	s := openStream(t, srv)
	require.NotEmpty(t, s.sessionID())
	require.Equal(t, 1, h.Len())

	s.cancel()
	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)

	// The id is dead once the stream is gone.
	resp := post(t, srv, s.endpoint, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessageRejections(t *testing.T) {
	srv, _ := newServer(t)
	s := openStream(t, srv)

	resp := post(t, srv, "/messages", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv, "/messages?sessionId=nope", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, srv, s.endpoint, `{"jsonrpc":"2.0","id":1,`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv, s.endpoint, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err := srv.Client().Post(srv.URL+s.endpoint, "text/plain", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, r.StatusCode)

	// None of the rejected messages produced an event: the next one is the ping.
	resp = post(t, srv, s.endpoint, `{"jsonrpc":"2.0","id":"after","method":"ping"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "after", s.next().ID.String())
}

func TestNotificationsProduceNoEvent(t *testing.T) {
	srv, _ := newServer(t)
	s := openStream(t, srv)

	resp := post(t, srv, s.endpoint, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = post(t, srv, s.endpoint, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	res := s.next()
	require.Equal(t, "2", res.ID.String())
	require.Nil(t, res.Error)
}

func TestInitializeOverStream(t *testing.T) {
	srv, _ := newServer(t)
	s := openStream(t, srv)

	init := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`
	post(t, srv, s.endpoint, init)
	res := s.next()
	require.Nil(t, res.Error)
	var initRes mcp.InitializeResult
	require.NoError(t, json.Unmarshal(res.Result, &initRes))
	require.Equal(t, "2024-11-05", initRes.ProtocolVersion)

	post(t, srv, s.endpoint, strings.Replace(init, `"id":1`, `"id":2`, 1))
	res = s.next()
	require.NotNil(t, res.Error)
	require.Equal(t, jsonrpc.ErrorCodeInvalidRequest, res.Error.Code)
}

func TestRepliesFollowSubmissionOrder(t *testing.T) {
	const (
		sessionCount = 10
		callsEach    = 10
	)
	srv, _ := newServer(t)

	var wg sync.WaitGroup
	for range sessionCount {
		s := openStream(t, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Earlier calls sleep longer, so they finish last.
			for i := range callsEach {
				resp := post(t, srv, s.endpoint, callBody(i, "sleep", fmt.Sprintf(`{"n":%d,"ms":%d}`, i, (callsEach-i)*3)))
				if resp.StatusCode != http.StatusAccepted {
					t.Errorf("call %d: status %d", i, resp.StatusCode)
				}
			}
			for i := range callsEach {
				res := s.next()
				if got := res.ID.String(); got != fmt.Sprint(i) {
					t.Errorf("session %s: reply %d has id %s", s.sessionID(), i, got)
					return
				}
				var call mcp.CallToolResult
				if err := json.Unmarshal(res.Result, &call); err != nil || call.IsError {
					t.Errorf("reply %d: %v %s", i, err, res.Result)
				}
			}
		}()
	}
	wg.Wait()
}

func TestToolFailureIsDeliveredAsEnvelope(t *testing.T) {
	srv, _ := newServer(t)
	s := openStream(t, srv)

	post(t, srv, s.endpoint, callBody(1, "sleep", `{}`))
	post(t, srv, s.endpoint, callBody(2, "missing", `{}`))

	for _, want := range []string{`invalid parameters: missing required parameter "n"`, "unknown command: missing"} {
		res := s.next()
		require.Nil(t, res.Error)
		var call mcp.CallToolResult
		require.NoError(t, json.Unmarshal(res.Result, &call))
		require.True(t, call.IsError)
		require.Equal(t, want, call.Content[0].Text)
	}
}

func TestDisconnectDropsLateResults(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	srv, h := newServer(t, mcpservice.Command{
		Name: "hang",
		Handler: func(ctx context.Context, _ mcpservice.Args) (any, error) {
			defer close(finished)
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	s := openStream(t, srv)

	resp := post(t, srv, s.endpoint, callBody(1, "hang", `{}`))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-started

	s.cancel()
	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)

	// Teardown cancels the call and its result goes nowhere.
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("in-flight call was not cancelled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
}

func TestShutdownEndsStreams(t *testing.T) {
	srv, h := newServer(t)
	s := openStream(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	_, err := readEvent(s.br)
	require.Error(t, err)
	require.Equal(t, 0, h.Len())

	resp := post(t, srv, s.endpoint, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
