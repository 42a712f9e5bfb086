package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kx3-io/carbot/pkg/protocol"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("key", "asst_1", WithBaseURL(srv.URL))
}

func TestCreateThread(t *testing.T) {
	var gotAuth, gotBeta string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/threads" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("OpenAI-Beta")
		w.Write([]byte(`{"id":"thread_1"}`))
	})

	id, err := c.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if id != "thread_1" {
		t.Errorf("unexpected thread id %q", id)
	}
	if gotAuth != "Bearer key" || gotBeta != "assistants=v2" {
		t.Errorf("missing auth headers: %q %q", gotAuth, gotBeta)
	}
}

func TestCreateRun(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/runs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"id":"run_1","thread_id":"thread_1","status":"queued"}`))
	})

	run, err := c.CreateRun(context.Background(), "thread_1")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.ID != "run_1" || run.Status != protocol.RunQueued {
		t.Errorf("unexpected run %+v", run)
	}
	if gotBody["assistant_id"] != "asst_1" {
		t.Errorf("assistant_id not sent: %v", gotBody)
	}
}

func TestGetRun_RequiresAction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"id": "run_1",
			"thread_id": "thread_1",
			"status": "requires_action",
			"required_action": {
				"type": "submit_tool_outputs",
				"submit_tool_outputs": {
					"tool_calls": [
						{"id": "call_1", "type": "function", "function": {"name": "openTicket", "arguments": "{\"department\":\"Financeiro\"}"}},
						{"id": "call_2", "type": "function", "function": {"name": "broken", "arguments": "not json"}}
					]
				}
			}
		}`))
	})

	run, err := c.GetRun(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != protocol.RunRequiresAction {
		t.Fatalf("unexpected status %q", run.Status)
	}
	if len(run.PendingToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(run.PendingToolCalls))
	}
	if run.PendingToolCalls[0].Name != "openTicket" {
		t.Errorf("unexpected tool name %q", run.PendingToolCalls[0].Name)
	}
	if run.PendingToolCalls[0].Arguments["department"] != "Financeiro" {
		t.Errorf("arguments not parsed: %v", run.PendingToolCalls[0].Arguments)
	}
	// Unparseable arguments are preserved raw rather than dropped.
	if run.PendingToolCalls[1].Arguments["_raw"] != "not json" {
		t.Errorf("raw arguments not preserved: %v", run.PendingToolCalls[1].Arguments)
	}
}

func TestGetRun_Failed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"run_1","status":"failed","last_error":{"code":"rate_limit_exceeded","message":"Rate limit reached"}}`))
	})

	run, err := c.GetRun(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != protocol.RunFailed || run.LastError != "Rate limit reached" {
		t.Errorf("unexpected run %+v", run)
	}
}

func TestSubmitToolOutputs(t *testing.T) {
	var got submitOutputsRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/runs/run_1/submit_tool_outputs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &got)
		w.Write([]byte(`{"id":"run_1","status":"queued"}`))
	})

	outputs := []protocol.ToolOutput{
		{CallID: "call_1", Output: `{"success":true}`},
		{CallID: "call_2", Output: `{"error":"broken not found"}`},
	}
	if err := c.SubmitToolOutputs(context.Background(), "thread_1", "run_1", outputs); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(got.ToolOutputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(got.ToolOutputs))
	}
	if got.ToolOutputs[0].ToolCallID != "call_1" || got.ToolOutputs[1].Output != `{"error":"broken not found"}` {
		t.Errorf("unexpected outputs: %+v", got.ToolOutputs)
	}
}

func TestLatestAssistantMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"role":"assistant","content":[{"type":"text","text":{"value":"Chamado criado!"}}]}]}`))
	})

	text, err := c.LatestAssistantMessage(context.Background(), "thread_1")
	if err != nil {
		t.Fatalf("latest message: %v", err)
	}
	if text != "Chamado criado!" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"invalid key"}}`, http.StatusUnauthorized)
	})

	_, err := c.CreateThread(context.Background())
	if err == nil {
		t.Fatal("expected error from non-200 response")
	}
}
