package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/events"
)

func TestSSEHub_BroadcastAndReceive(t *testing.T) {
	hub := newSSEHub()

	client := hub.subscribe(nil) // all topics
	defer hub.unsubscribe(client)

	hub.broadcast("splitvault.vault.created", []byte(`{"id":"vlt-1"}`))

	select {
	case evt := <-client.ch:
		if evt.Topic != "splitvault.vault.created" {
			t.Fatalf("expected topic=%q, got %q", "splitvault.vault.created", evt.Topic)
		}
		if string(evt.Data) != `{"id":"vlt-1"}` {
			t.Fatalf("expected data=%q, got %q", `{"id":"vlt-1"}`, string(evt.Data))
		}
		if evt.ID != 1 {
			t.Fatalf("expected id=1, got %d", evt.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSSEHub_TopicFiltering(t *testing.T) {
	hub := newSSEHub()

	// Client only wants vault events.
	client := hub.subscribe([]string{"splitvault.vault.*"})
	defer hub.unsubscribe(client)

	hub.broadcast("splitvault.proposal.created", []byte(`{"proposal_id":"prp-x"}`))
	hub.broadcast("splitvault.vault.created", []byte(`{"id":"vlt-1"}`))

	select {
	case evt := <-client.ch:
		if evt.Topic != "splitvault.vault.created" {
			t.Fatalf("expected topic=%q, got %q", "splitvault.vault.created", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	// Ensure no more events (proposal.created should have been filtered).
	select {
	case evt := <-client.ch:
		t.Fatalf("unexpected event: topic=%q", evt.Topic)
	case <-time.After(50 * time.Millisecond):
		// Good - no extra events.
	}
}

func TestSSEHub_MultipleTopicFilters(t *testing.T) {
	hub := newSSEHub()

	client := hub.subscribe([]string{"splitvault.vault.*", "splitvault.proposal.*"})
	defer hub.unsubscribe(client)

	hub.broadcast("splitvault.vault.created", []byte(`{}`))
	hub.broadcast("splitvault.proposal.created", []byte(`{}`))
	hub.broadcast("splitvault.recipient.failed", []byte(`{}`)) // should be filtered

	received := 0
	timeout := time.After(time.Second)
	for received < 2 {
		select {
		case <-client.ch:
			received++
		case <-timeout:
			t.Fatalf("expected 2 events, got %d", received)
		}
	}

	select {
	case <-client.ch:
		t.Fatal("unexpected third event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSSEHub_Unsubscribe(t *testing.T) {
	hub := newSSEHub()

	client := hub.subscribe(nil)
	hub.unsubscribe(client)

	hub.broadcast("splitvault.vault.created", []byte(`{}`))

	select {
	case <-client.ch:
		t.Fatal("should not receive events after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSSEHub_EventsSince(t *testing.T) {
	hub := newSSEHub()

	// Broadcast 5 events.
	for i := range 5 {
		hub.broadcast("splitvault.vault.created", []byte(`{"n":`+string(rune('0'+i))+`}`))
	}

	// Get events after ID 2 (should return IDs 3, 4, 5).
	evts := hub.eventsSince(2)
	if len(evts) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evts))
	}
	if evts[0].ID != 3 || evts[1].ID != 4 || evts[2].ID != 5 {
		t.Fatalf("expected IDs [3,4,5], got [%d,%d,%d]", evts[0].ID, evts[1].ID, evts[2].ID)
	}
}

func TestSSEHub_EventsSince_Empty(t *testing.T) {
	hub := newSSEHub()
	evts := hub.eventsSince(0)
	if len(evts) != 0 {
		t.Fatalf("expected 0 events, got %d", len(evts))
	}
}

func TestSSEHub_EventsSince_AllNew(t *testing.T) {
	hub := newSSEHub()
	hub.broadcast("splitvault.vault.created", []byte(`{}`))
	hub.broadcast("splitvault.vault.ready", []byte(`{}`))

	evts := hub.eventsSince(0)
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
}

func TestSSEHub_RingBufferWrap(t *testing.T) {
	hub := newSSEHub()

	// Fill the ring buffer and then some to force wrap.
	for range sseRingBufferSize + 100 {
		hub.broadcast("splitvault.vault.created", []byte(`{}`))
	}

	// The oldest event in the buffer should have ID = 101 (100 were evicted).
	evts := hub.eventsSince(0)
	if len(evts) != sseRingBufferSize {
		t.Fatalf("expected %d events, got %d", sseRingBufferSize, len(evts))
	}
	if evts[0].ID != 101 {
		t.Fatalf("expected oldest event ID=101, got %d", evts[0].ID)
	}
}

func TestMatchTopicPattern(t *testing.T) {
	for _, tc := range []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"splitvault.vault.created", "splitvault.vault.created", true},
		{"splitvault.vault.created", "splitvault.vault.ready", false},
		{"splitvault.vault.*", "splitvault.vault.created", true},
		{"splitvault.vault.*", "splitvault.vault.ready", true},
		{"splitvault.vault.*", "splitvault.proposal.created", false},
		{"splitvault.>", "splitvault.vault.created", true},
		{"splitvault.>", "splitvault.proposal.created", true},
		{"splitvault.>", "other.topic", false},
		{"*.*.*", "splitvault.vault.created", true},
		{"*.*.*", "splitvault.vault", false},
	} {
		t.Run(tc.pattern+"_"+tc.topic, func(t *testing.T) {
			got := matchTopicPattern(tc.pattern, tc.topic)
			if got != tc.want {
				t.Fatalf("matchTopicPattern(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
			}
		})
	}
}

// TestHandleEventStream_SSE tests the full HTTP SSE endpoint.
func TestHandleEventStream_SSE(t *testing.T) {
	srv, _, handler := newTestServer()

	// Start the SSE request in a goroutine.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/v1/events/stream", nil)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	// Give the handler time to register the subscription.
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event.
	srv.hub.broadcast("splitvault.vault.created", []byte(`{"id":"vlt-sse1"}`))

	// Give it time to be written.
	time.Sleep(50 * time.Millisecond)

	// Cancel the context to end the stream.
	cancel()
	<-done

	// Check response headers.
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected Content-Type=text/event-stream, got %q", ct)
	}

	// Parse the SSE output.
	body := rec.Body.String()
	if !strings.Contains(body, "event:splitvault.vault.created") {
		t.Fatalf("expected event:splitvault.vault.created in body, got:\n%s", body)
	}
	if !strings.Contains(body, `data:{"id":"vlt-sse1"}`) {
		t.Fatalf("expected data with vlt-sse1 in body, got:\n%s", body)
	}
	if !strings.Contains(body, "id:") {
		t.Fatalf("expected id: field in body, got:\n%s", body)
	}
}

// TestHandleEventStream_TopicFilter tests the ?topics= query param.
func TestHandleEventStream_TopicFilter(t *testing.T) {
	srv, _, handler := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/v1/events/stream?topics=splitvault.proposal.*", nil)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	time.Sleep(50 * time.Millisecond)

	// Broadcast a vault event (should be filtered) and a proposal event (should pass).
	srv.hub.broadcast("splitvault.vault.created", []byte(`{"id":"vlt-1"}`))
	srv.hub.broadcast("splitvault.proposal.created", []byte(`{"proposal_id":"prp-1"}`))

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if strings.Contains(body, "splitvault.vault.created") {
		t.Fatalf("expected vault event to be filtered out, got:\n%s", body)
	}
	if !strings.Contains(body, "splitvault.proposal.created") {
		t.Fatalf("expected proposal event in body, got:\n%s", body)
	}
}

// TestHandleEventStream_LastEventID tests reconnection with Last-Event-ID.
func TestHandleEventStream_LastEventID(t *testing.T) {
	srv, _, handler := newTestServer()

	// Pre-broadcast 3 events before connecting.
	srv.hub.broadcast("splitvault.vault.created", []byte(`{"n":1}`))
	srv.hub.broadcast("splitvault.vault.ready", []byte(`{"n":2}`))
	srv.hub.broadcast("splitvault.vault.destroyed", []byte(`{"n":3}`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/v1/events/stream", nil)
	req.Header.Set("Last-Event-ID", "1") // Should replay events 2 and 3.
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	// Should contain events 2 and 3 but not event 1.
	if strings.Contains(body, `data:{"n":1}`) {
		t.Fatalf("expected event 1 to be skipped, got:\n%s", body)
	}
	if !strings.Contains(body, `data:{"n":2}`) {
		t.Fatalf("expected event 2 in body, got:\n%s", body)
	}
	if !strings.Contains(body, `data:{"n":3}`) {
		t.Fatalf("expected event 3 in body, got:\n%s", body)
	}
}

// TestHandleEventStream_Lifecycle tests that lifecycle events published
// through the Broadcaster reach SSE clients.
func TestHandleEventStream_Lifecycle(t *testing.T) {
	_, _, handler := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/v1/events/stream", nil)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	time.Sleep(50 * time.Millisecond)

	// Create a vault through the API, which publishes through the lifecycle.
	create := httptest.NewRequest("POST", "/v1/vaults",
		strings.NewReader(`{"source_asset":"btc","key_holders":["a"],"threshold":1}`))
	handler.ServeHTTP(httptest.NewRecorder(), create)

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event:"+events.TopicVaultCreated) {
		t.Fatalf("expected SSE event from the lifecycle, got:\n%s", body)
	}
}

// forwardPublisher counts events handed on by the Broadcaster.
type forwardPublisher struct {
	topics []string
	closed bool
}

func (f *forwardPublisher) Publish(_ context.Context, topic string, _ any) error {
	f.topics = append(f.topics, topic)
	return nil
}

func (f *forwardPublisher) Close() error {
	f.closed = true
	return nil
}

func TestBroadcaster_Forwards(t *testing.T) {
	next := &forwardPublisher{}
	b := NewBroadcaster(next)
	client := b.hub.subscribe(nil)
	defer b.hub.unsubscribe(client)

	if err := b.Publish(context.Background(), events.TopicVaultReady, events.VaultTransitioned{VaultID: "vlt-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case evt := <-client.ch:
		if evt.Topic != events.TopicVaultReady || !strings.Contains(string(evt.Data), `"vault_id":"vlt-1"`) {
			t.Fatalf("unexpected event %s %s", evt.Topic, evt.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	if len(next.topics) != 1 || next.topics[0] != events.TopicVaultReady {
		t.Fatalf("downstream saw %v", next.topics)
	}
	if err := b.Close(); err != nil || !next.closed {
		t.Fatalf("Close: %v, closed=%v", err, next.closed)
	}
}

// TestHandleEventStream_MultipleClients verifies fan-out to multiple clients.
func TestHandleEventStream_MultipleClients(t *testing.T) {
	srv, _, handler := newTestServer()

	startClient := func() (*httptest.ResponseRecorder, context.CancelFunc, <-chan struct{}) {
		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest("GET", "/v1/events/stream", nil)
		req = req.WithContext(ctx)
		rec := httptest.NewRecorder()
		done := make(chan struct{})
		go func() {
			defer close(done)
			handler.ServeHTTP(rec, req)
		}()
		return rec, cancel, done
	}

	rec1, cancel1, done1 := startClient()
	defer cancel1()
	rec2, cancel2, done2 := startClient()
	defer cancel2()

	time.Sleep(50 * time.Millisecond)

	srv.hub.broadcast("splitvault.vault.created", []byte(`{"id":"vlt-multi"}`))

	time.Sleep(50 * time.Millisecond)
	cancel1()
	cancel2()
	<-done1
	<-done2

	for i, rec := range []*httptest.ResponseRecorder{rec1, rec2} {
		body := rec.Body.String()
		if !strings.Contains(body, "splitvault.vault.created") {
			t.Fatalf("client %d: expected vault event, got:\n%s", i+1, body)
		}
	}
}

// TestSSEEventFormat verifies the exact SSE wire format.
func TestSSEEventFormat(t *testing.T) {
	srv, _, handler := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/v1/events/stream", nil)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()

	time.Sleep(50 * time.Millisecond)
	srv.hub.broadcast("splitvault.vault.created", []byte(`{"id":"vlt-fmt"}`))
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	// Parse SSE events from body.
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var id, event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id:") {
			id = strings.TrimPrefix(line, "id:")
		} else if strings.HasPrefix(line, "event:") {
			event = strings.TrimPrefix(line, "event:")
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimPrefix(line, "data:")
		}
	}

	if id == "" {
		t.Fatal("expected non-empty id field")
	}
	if event != "splitvault.vault.created" {
		t.Fatalf("expected event=splitvault.vault.created, got %q", event)
	}
	if !json.Valid([]byte(data)) {
		t.Fatalf("expected valid JSON data, got %q", data)
	}
	if data != `{"id":"vlt-fmt"}` {
		t.Fatalf("expected data=%q, got %q", `{"id":"vlt-fmt"}`, data)
	}
}
