package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/ggoodman/mcp-wordpress-gateway/sessions"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With("component", "test")

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "POST", Path: "/mcp"})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "s1", Kind: sessions.KindSSE})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "tools/call", ID: "7", Type: "request"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "getPost"})
	log.InfoContext(ctx, "tool.call.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["component"] != "test" {
		t.Fatalf("lost WithAttrs: %v", rec)
	}
	if got := rec["req"].(map[string]any)["id"]; got != "r1" {
		t.Fatalf("req.id = %v", got)
	}
	if got := rec["sess"].(map[string]any)["kind"]; got != string(sessions.KindSSE) {
		t.Fatalf("sess.kind = %v", got)
	}
	if got := rec["rpc"].(map[string]any)["method"]; got != "tools/call" {
		t.Fatalf("rpc.method = %v", got)
	}
	if got := rec["tool"].(map[string]any)["name"]; got != "getPost" {
		t.Fatalf("tool.name = %v", got)
	}
}
