package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"pump-backend/internal/dispatch"
	"pump-backend/internal/models"
	"pump-backend/internal/registry"
)

type fakeConn struct {
	mu      sync.Mutex
	ready   bool
	sendErr error
	sent    [][]byte
}

func newFakeConn() *fakeConn { return &fakeConn{ready: true} }

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func asDispatchError(t *testing.T, err error) *dispatch.Error {
	t.Helper()
	var derr *dispatch.Error
	if !errors.As(err, &derr) {
		t.Fatalf("want *dispatch.Error, got %T: %v", err, err)
	}
	return derr
}

func TestSendWithoutRegistry(t *testing.T) {
	d := dispatch.New(nil, testLogger())

	_, err := d.Send(context.Background(), "pump-1", models.CommandTogglePump, nil)

	derr := asDispatchError(t, err)
	if derr.Code != dispatch.CodeInternal || derr.StatusCode != 500 {
		t.Fatalf("want internal/500, got %s/%d", derr.Code, derr.StatusCode)
	}
}

func TestSendToUnknownDevice(t *testing.T) {
	reg := registry.New(testLogger())
	reg.OnConnect("pump-1", newFakeConn())
	reg.OnConnect("pump-2", newFakeConn())
	d := dispatch.New(reg, testLogger())

	_, err := d.Send(context.Background(), "pump-9", models.CommandTogglePump, nil)

	derr := asDispatchError(t, err)
	if derr.Code != dispatch.CodeNotFound || derr.StatusCode != 404 {
		t.Fatalf("want not_found/404, got %s/%d", derr.Code, derr.StatusCode)
	}
	if derr.Details == nil {
		t.Fatal("NotFound must carry diagnostic details")
	}
	if derr.Details.ActiveConnections != 2 {
		t.Fatalf("ActiveConnections = %d, want 2", derr.Details.ActiveConnections)
	}
	want := []string{"pump-1", "pump-2"}
	if !reflect.DeepEqual(derr.Details.ActiveDevices, want) {
		t.Fatalf("ActiveDevices = %v, want %v", derr.Details.ActiveDevices, want)
	}
}

func TestSendToNotReadyConn(t *testing.T) {
	reg := registry.New(testLogger())
	conn := newFakeConn()
	conn.ready = false
	reg.OnConnect("pump-1", conn)
	d := dispatch.New(reg, testLogger())

	_, err := d.Send(context.Background(), "pump-1", models.CommandTogglePump, nil)

	derr := asDispatchError(t, err)
	if derr.Code != dispatch.CodeUnavailable || derr.StatusCode != 503 {
		t.Fatalf("want unavailable/503, got %s/%d", derr.Code, derr.StatusCode)
	}
}

func TestSendTransportWriteFailure(t *testing.T) {
	reg := registry.New(testLogger())
	conn := newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	reg.OnConnect("pump-1", conn)
	d := dispatch.New(reg, testLogger())

	_, err := d.Send(context.Background(), "pump-1", models.CommandTogglePump, nil)

	derr := asDispatchError(t, err)
	if derr.Code != dispatch.CodeSendFailed || derr.StatusCode != 500 {
		t.Fatalf("want send_failed/500, got %s/%d", derr.Code, derr.StatusCode)
	}
}

func TestSendSuccessEchoesEnvelope(t *testing.T) {
	reg := registry.New(testLogger())
	conn := newFakeConn()
	reg.OnConnect("pump-1", conn)
	d := dispatch.New(reg, testLogger())

	envelope, err := d.Send(context.Background(), "pump-1", models.CommandTogglePump, map[string]any{"state": true})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if envelope.Command != models.CommandTogglePump {
		t.Fatalf("envelope.Command = %q", envelope.Command)
	}
	if envelope.CommandID == "" || envelope.Timestamp.IsZero() {
		t.Fatal("envelope must be stamped with command_id and timestamp")
	}

	payloads := conn.payloads()
	if len(payloads) != 1 {
		t.Fatalf("want 1 transport write, got %d", len(payloads))
	}
	var wire models.CommandEnvelope
	if err := json.Unmarshal(payloads[0], &wire); err != nil {
		t.Fatalf("wire payload is not JSON: %v", err)
	}
	if wire.Command != models.CommandTogglePump || wire.CommandID != envelope.CommandID {
		t.Fatalf("wire envelope mismatch: %+v", wire)
	}
}

func TestSendAfterDisconnectFailsFast(t *testing.T) {
	reg := registry.New(testLogger())
	conn := newFakeConn()
	reg.OnConnect("pump-1", conn)
	reg.OnDisconnect("pump-1", conn)
	d := dispatch.New(reg, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := d.Send(context.Background(), "pump-1", models.CommandTogglePump, nil)
		done <- err
	}()

	select {
	case err := <-done:
		derr := asDispatchError(t, err)
		if derr.Code != dispatch.CodeNotFound {
			t.Fatalf("want not_found after disconnect, got %s", derr.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch after disconnect must fail fast, not hang")
	}
}

func TestSendNormalizesAddScheduleValue(t *testing.T) {
	reg := registry.New(testLogger())
	conn := newFakeConn()
	reg.OnConnect("pump-1", conn)
	d := dispatch.New(reg, testLogger())

	// loose JSON map with weakly-typed fields, as the HTTP layer delivers it
	_, err := d.Send(context.Background(), "pump-1", models.CommandAddSchedule, map[string]any{
		"hour":        "7",
		"minute":      30.0,
		"schedule_id": 42,
		"title":       "morning run",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var wire struct {
		Value models.AddSchedulePayload `json:"value"`
	}
	if err := json.Unmarshal(conn.payloads()[0], &wire); err != nil {
		t.Fatalf("wire payload is not JSON: %v", err)
	}
	want := models.AddSchedulePayload{Hour: 7, Minute: 30, ScheduleID: 42, Title: "morning run"}
	if wire.Value != want {
		t.Fatalf("wire value = %+v, want %+v", wire.Value, want)
	}
}
