// Package e2e contains end-to-end tests against a running phrase table
// service (cmd/server), optionally fed through Kafka by cmd/feeder.
//
// Prerequisites:
//   - cmd/server running with an empty or disposable model
//
// Run with:
//
//	go test -v -timeout=120s ./test/e2e/...
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func serverURL() string {
	if v := os.Getenv("E2E_SERVER_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

var client = &http.Client{Timeout: 10 * time.Second}

func skipIfDown(t *testing.T) {
	t.Helper()
	resp, err := client.Get(serverURL() + "/health/live")
	if err != nil {
		t.Skipf("service unavailable: %v", err)
	}
	resp.Body.Close()
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestServiceHealth verifies liveness and readiness probes.
func TestServiceHealth(t *testing.T) {
	skipIfDown(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			resp, err := client.Get(serverURL() + path)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("expected 200, got %d: %s", resp.StatusCode, body)
			}
		})
	}
}

// TestUpdateThenLookup posts sentence pairs on a fresh stream, waits until
// the stream's watermark reaches them and checks that the new target phrase
// is offered.
func TestUpdateThenLookup(t *testing.T) {
	skipIfDown(t)

	stream := uint32(time.Now().Unix() % 1_000_000)
	source := []uint32{900001, 900002}
	target := []uint32{900101, 900102}
	body, _ := json.Marshal(map[string]any{
		"updates": []map[string]any{{
			"stream":    stream,
			"seq":       1,
			"domain":    77,
			"source":    source,
			"target":    target,
			"alignment": []map[string]int{{"s": 0, "t": 0}, {"s": 1, "t": 1}},
		}},
	})
	resp, err := client.Post(serverURL()+"/api/v1/updates", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("posting update failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		var latest struct {
			Streams map[string]int64 `json:"streams"`
		}
		getJSON(t, "/api/v1/updates/latest", &latest)
		if latest.Streams[fmt.Sprint(stream)] >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("update on stream %d not applied within deadline", stream)
		}
		time.Sleep(200 * time.Millisecond)
	}

	var out struct {
		Options []struct {
			Target []uint32 `json:"target"`
			Count  int      `json:"count"`
		} `json:"options"`
	}
	getJSON(t, "/api/v1/options?phrase=900001,900002&context=77:1", &out)
	found := false
	for _, o := range out.Options {
		if fmt.Sprint(o.Target) == fmt.Sprint(target) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected target %v among %d options", target, len(out.Options))
	}
}

// TestInvalidRequestsRejected verifies 400 responses for malformed input.
func TestInvalidRequestsRejected(t *testing.T) {
	skipIfDown(t)
	for _, path := range []string{
		"/api/v1/options",
		"/api/v1/options?phrase=abc",
		"/api/v1/options?phrase=1&context=1:x",
	} {
		resp, err := client.Get(serverURL() + path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, resp.StatusCode)
		}
	}
}

func getJSON(t *testing.T, path string, v any) {
	t.Helper()
	resp, err := client.Get(serverURL() + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
}
