package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crimson-sun/watchdog/internal/model"
	"github.com/crimson-sun/watchdog/internal/output"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestBroadcastToAllClients(t *testing.T) {
	hub := NewHub(output.Minimal)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a, b := dial(t, srv), dial(t, srv)
	waitClients(t, hub, 2)

	f := model.Finding{Recommendation: model.Recommendation{
		Issue: "disk full", Severity: model.SeverityCritical, LogEvidence: []string{"no space left"},
	}}
	if err := hub.Write(context.Background(), f); err != nil {
		t.Fatal(err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		m := readMessage(t, conn)
		if m.Type != "finding" || m.Finding == nil || m.Finding.Issue != "disk full" {
			t.Fatalf("message = %+v", m)
		}
		if len(m.Finding.LogEvidence) != 0 {
			t.Errorf("minimal verbosity should drop evidence, got %v", m.Finding.LogEvidence)
		}
	}
}

func TestSummaryMessage(t *testing.T) {
	hub := NewHub(output.Standard)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	waitClients(t, hub, 1)

	if err := hub.WriteSummary(context.Background(), output.Summary{TotalLogs: 9}); err != nil {
		t.Fatal(err)
	}
	m := readMessage(t, conn)
	if m.Type != "summary" || m.Summary == nil || m.Summary.TotalLogs != 9 {
		t.Errorf("message = %+v", m)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(output.Standard)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)
}

func TestCloseDisconnectsAndRejectsWrites(t *testing.T) {
	hub := NewHub(output.Standard)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	dial(t, srv)
	waitClients(t, hub, 1)

	if err := hub.Close(); err != nil {
		t.Fatal(err)
	}
	if hub.Clients() != 0 {
		t.Errorf("clients after Close = %d", hub.Clients())
	}
	if err := hub.Write(context.Background(), model.Finding{}); !errors.Is(err, output.ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestWriteWithoutClients(t *testing.T) {
	hub := NewHub(output.Full)
	defer hub.Close()
	if err := hub.Write(context.Background(), model.Finding{}); err != nil {
		t.Errorf("Write with no clients = %v", err)
	}
}
