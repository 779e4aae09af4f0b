package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Telemetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/telemetry" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		// Extra/unknown fields must be ignored by the client.
		w.Write([]byte(`{"logs":[
			{"status":"SUCCESS","latency_ms":120,"region":"US","shiny_new_field":true},
			{"status":"FAILED","error_code":"91"}
		],"server_time":"whenever"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	points, err := c.Telemetry(context.Background())
	if err != nil {
		t.Fatalf("Telemetry() error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}
	if points[0].Status != "SUCCESS" || points[0].LatencyMS != 120 {
		t.Errorf("point[0] = %+v", points[0])
	}
	if points[1].LatencyMS != 0 {
		t.Errorf("absent latency decoded to %v, want 0", points[1].LatencyMS)
	}
}

func TestClient_TelemetryOmittedLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	points, err := New(srv.URL, time.Second).Telemetry(context.Background())
	if err != nil {
		t.Fatalf("Telemetry() error: %v", err)
	}
	if points != nil {
		t.Errorf("omitted logs field decoded to %v, want nil (no update)", points)
	}
}

func TestClient_AgentState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("thread_id"); got != "demo_session_1" {
			t.Errorf("thread_id = %q", got)
		}
		w.Write([]byte(`{"status":"WAITING_FOR_APPROVAL","proposal":"{\"action_type\":\"BLOCK\"}","tool":"fraud_mitigation"}`))
	}))
	defer srv.Close()

	st, err := New(srv.URL, time.Second).AgentState(context.Background(), "demo_session_1")
	if err != nil {
		t.Fatalf("AgentState() error: %v", err)
	}
	if st.Status != "WAITING_FOR_APPROVAL" {
		t.Errorf("Status = %q", st.Status)
	}
	if st.Proposal != `{"action_type":"BLOCK"}` {
		t.Errorf("Proposal = %q", st.Proposal)
	}
}

func TestClient_RunCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/run_cycle" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if body["thread_id"] != "t9" {
			t.Errorf("thread_id = %q", body["thread_id"])
		}
		w.Write([]byte(`{"logs":["step A","step B"]}`))
	}))
	defer srv.Close()

	lines, err := New(srv.URL, time.Second).RunCycle(context.Background(), "t9")
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if len(lines) != 2 || lines[0] != "step A" || lines[1] != "step B" {
		t.Errorf("lines = %v", lines)
	}
}

func TestClient_DecidePayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":"REJECTED","logs":["Action cancelled by user."]}`))
	}))
	defer srv.Close()

	lines, err := New(srv.URL, time.Second).Decide(context.Background(), "t1", false)
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if got["thread_id"] != "t1" || got["approved"] != false {
		t.Errorf("request body = %v", got)
	}
	if len(lines) != 1 || lines[0] != "Action cancelled by user." {
		t.Errorf("lines = %v", lines)
	}
}

func TestClient_ErrorStatusSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, time.Second).RunCycle(context.Background(), "t1"); err == nil {
		t.Fatal("RunCycle() = nil error on 500, want error")
	}
}
