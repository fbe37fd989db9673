// Command examples shows a confirm-before-write round trip with the Sentellent Go SDK
// against a stub server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"time"

	"Sentellent-Agent/sdk/go/sentellent"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sentellent.Response{
			TurnID: "turn-demo-1",
			Reply:  "Send an email to priya@example.com with subject \"Notes\"?\n\nReply yes to proceed or no to cancel.",
			Status: sentellent.StatusAwaitingConfirmation,
			PendingAction: &sentellent.PendingAction{
				ID:        "act-demo",
				Kind:      "mail_send",
				Payload:   json.RawMessage(`{"to":["priya@example.com"],"subject":"Notes","body":"See you at 3."}`),
				CreatedAt: time.Now().UTC(),
			},
		})
	})
	mux.HandleFunc("POST /api/v1/confirmations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sentellent.Response{
			TurnID: "turn-demo-2",
			Reply:  "Email sent to priya@example.com.",
			Status: sentellent.StatusExecuted,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := sentellent.NewClient(server.URL, server.Client())
	if err != nil {
		log.Fatalf("create client: %v", err)
	}
	client.SetAccessToken("demo-token")

	ctx := context.Background()
	resp, err := client.SubmitMessage(ctx, "demo-user", "email priya@example.com saying see you at 3", sentellent.NewIdempotencyKey())
	if err != nil {
		log.Fatalf("submit message: %v", err)
	}
	fmt.Println(resp.Reply)

	if resp.PendingAction != nil {
		done, err := client.SubmitConfirmation(ctx, "demo-user", sentellent.Confirm, "", sentellent.NewIdempotencyKey())
		if err != nil {
			log.Fatalf("confirm: %v", err)
		}
		fmt.Println(done.Reply)
	}
}
