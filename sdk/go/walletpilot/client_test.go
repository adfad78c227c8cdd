package walletpilot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatPostsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.Message != "What's my balance?" {
			t.Fatalf("unexpected message: %q", req.Message)
		}
		_, _ = w.Write([]byte(`{"turnId":"t-1","response":"Your balance is 1.5 ETH","operation":"GetBalance","operationType":0}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	reply, err := client.Chat(context.Background(), ChatRequest{Message: "What's my balance?"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply.TurnID != "t-1" || reply.Operation != "GetBalance" || reply.Response != "Your balance is 1.5 ETH" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestChatErrorBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"another request for this wallet is in progress"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Chat(context.Background(), ChatRequest{Message: "send"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "another request for this wallet is in progress" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestExplainSimulationAndTurns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prefix/api/v1/simulate":
			var body struct {
				OperationType int `json:"operationType"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.OperationType != 8 {
				t.Fatalf("unexpected operation type: %d", body.OperationType)
			}
			_, _ = w.Write([]byte(`{"response":"It would send 0.1 ETH."}`))
		case "/prefix/api/v1/turns":
			if got := r.URL.Query().Get("limit"); got != "3" {
				t.Fatalf("unexpected limit: %q", got)
			}
			_, _ = w.Write([]byte(`[{"id":"t-1","operation":"SendEth","transactionId":"0xabc","createdAt":1700000000}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL+"/prefix", srv.Client())

	text, err := client.ExplainSimulation(context.Background(), map[string]any{"success": true}, 8)
	if err != nil || text != "It would send 0.1 ETH." {
		t.Fatalf("unexpected explanation: %q %v", text, err)
	}

	turns, err := client.Turns(context.Background(), 3)
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 1 || turns[0].TransactionID != "0xabc" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", nil); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}
