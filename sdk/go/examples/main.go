package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"WalletPilot/sdk/go/walletpilot"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(walletpilot.ChatReply{
			TurnID:        "turn-demo",
			Response:      "Simulating the transaction...",
			Operation:     "SimulateMyOperation",
			OperationType: 8,
			Simulation:    json.RawMessage(`{"success":true,"gasUsed":21000}`),
		})
	})
	mux.HandleFunc("/api/v1/simulate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"response": "Sending 0.1 ETH would succeed and use 21000 gas.",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := walletpilot.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Chat(ctx, walletpilot.ChatRequest{Message: "What happens if I send 0.1 ETH to 0x00000000000000000000000000000000000000b0?"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("turn %s: %s\n", reply.TurnID, reply.Response)

	if len(reply.Simulation) > 0 {
		explanation, err := client.ExplainSimulation(ctx, reply.Simulation, reply.OperationType)
		if err != nil {
			panic(err)
		}
		fmt.Println(explanation)
	}
}
