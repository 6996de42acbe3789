package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSyncEventsStreamEmitsEntityChanges(t *testing.T) {
	env := newTestEnvironment(t)

	streamRequest, err := http.NewRequest(http.MethodGet, env.server.URL+"/sync/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamRequest.Header.Set("Authorization", "Bearer "+env.token)
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}

	streamReader := bufio.NewReader(streamResp.Body)

	createBody := []byte(`{"client_id":"task-stream","title":"Streamed task"}`)
	createRequest, err := http.NewRequest(http.MethodPost, env.server.URL+"/tasks", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("failed to construct create request: %v", err)
	}
	createRequest.Header.Set("Authorization", "Bearer "+env.token)
	createRequest.Header.Set("Content-Type", "application/json")
	createResp, err := http.DefaultClient.Do(createRequest)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	_ = createResp.Body.Close()
	if createResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected create status: %d", createResp.StatusCode)
	}

	type eventPayload struct {
		Source     string   `json:"source"`
		EntityType string   `json:"entity_type"`
		ClientIDs  []string `json:"client_ids"`
	}

	currentEventType := ""
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if currentEventType != RealtimeEventEntityChanged {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var payload eventPayload
			if err := json.Unmarshal([]byte(dataJSON), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.EntityType != "task" {
				t.Fatalf("unexpected entity type %q", payload.EntityType)
			}
			if len(payload.ClientIDs) == 0 || payload.ClientIDs[0] != "task-stream" {
				t.Fatalf("unexpected client identifiers: %#v", payload.ClientIDs)
			}
			if payload.Source != realtimeSourceBackend {
				t.Fatalf("unexpected source %q", payload.Source)
			}
			return
		}
	}
}
