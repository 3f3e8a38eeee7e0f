package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/column"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ---------------------------------------------------------------------------
// Mock implementations of driver.Conn and driver.Batch for unit testing
// without a real ClickHouse connection.
// ---------------------------------------------------------------------------

type mockConn struct {
	mu               sync.Mutex
	execQueries      []string
	execFunc         func(ctx context.Context, query string, args ...any) error
	prepareBatchFunc func(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
}

func (m *mockConn) Contributors() []string                                           { return nil }
func (m *mockConn) ServerVersion() (*driver.ServerVersion, error)                    { return nil, nil }
func (m *mockConn) Select(_ context.Context, _ any, _ string, _ ...any) error        { return nil }
func (m *mockConn) Query(_ context.Context, _ string, _ ...any) (driver.Rows, error) { return nil, nil }
func (m *mockConn) QueryRow(_ context.Context, _ string, _ ...any) driver.Row        { return nil }
func (m *mockConn) AsyncInsert(_ context.Context, _ string, _ bool, _ ...any) error  { return nil }
func (m *mockConn) Ping(_ context.Context) error                                     { return nil }
func (m *mockConn) Stats() driver.Stats                                              { return driver.Stats{} }
func (m *mockConn) Close() error                                                     { return nil }

func (m *mockConn) Exec(ctx context.Context, query string, args ...any) error {
	m.mu.Lock()
	m.execQueries = append(m.execQueries, query)
	m.mu.Unlock()
	if m.execFunc != nil {
		return m.execFunc(ctx, query, args...)
	}
	return nil
}

func (m *mockConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	if m.prepareBatchFunc != nil {
		return m.prepareBatchFunc(ctx, query, opts...)
	}
	return &mockBatch{}, nil
}

func (m *mockConn) queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.execQueries...)
}

type mockBatch struct{}

func (m *mockBatch) Abort() error                    { return nil }
func (m *mockBatch) Append(_ ...any) error           { return nil }
func (m *mockBatch) AppendStruct(_ any) error        { return nil }
func (m *mockBatch) Column(_ int) driver.BatchColumn { return nil }
func (m *mockBatch) Flush() error                    { return nil }
func (m *mockBatch) Send() error                     { return nil }
func (m *mockBatch) IsSent() bool                    { return false }
func (m *mockBatch) Rows() int                       { return 0 }
func (m *mockBatch) Columns() []column.Interface     { return nil }
func (m *mockBatch) Close() error                    { return nil }

func newMockClient(conn driver.Conn) *ClickHouseClient {
	return &ClickHouseClient{
		conn:   conn,
		config: DefaultClickHouseConfig(),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAppendEventWithAlert_EventInsertedFirst(t *testing.T) {
	conn := &mockConn{}
	store := NewClickHouseStore(newMockClient(conn), DefaultBatchWriterConfig())
	defer store.Close()

	pe := processedEvent("alice", true)
	alert := storedAlert()
	id := alert.AlertID
	pe.AlertID = &id

	if err := store.AppendEventWithAlert(context.Background(), pe, alert); err != nil {
		t.Fatalf("AppendEventWithAlert() error = %v", err)
	}

	queries := conn.queries()
	if len(queries) != 2 {
		t.Fatalf("exec count = %d, want 2", len(queries))
	}
	if !strings.Contains(queries[0], "INSERT INTO events") {
		t.Errorf("first insert = %.40q, want events", queries[0])
	}
	if !strings.Contains(queries[1], "INSERT INTO alerts") {
		t.Errorf("second insert = %.40q, want alerts", queries[1])
	}
}

func TestAppendEventWithAlert_EventFailureWritesNoAlert(t *testing.T) {
	conn := &mockConn{
		execFunc: func(_ context.Context, query string, _ ...any) error {
			if strings.Contains(query, "INSERT INTO events") {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	store := NewClickHouseStore(newMockClient(conn), DefaultBatchWriterConfig())
	defer store.Close()

	pe := processedEvent("alice", true)
	alert := storedAlert()

	if err := store.AppendEventWithAlert(context.Background(), pe, alert); err == nil {
		t.Fatal("expected error from failed event insert")
	}

	// A failed pair must never leave an alert row behind; the caller
	// retries with both halves.
	for _, q := range conn.queries() {
		if strings.Contains(q, "INSERT INTO alerts") {
			t.Error("alert inserted despite event insert failure")
		}
	}
}

func TestBatchWriter_TimerFlushFailureSurfacesOnWrite(t *testing.T) {
	cfg := BatchWriterConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxRetries:    0,
		RetryDelay:    time.Millisecond,
	}
	conn := &mockConn{
		prepareBatchFunc: func(_ context.Context, _ string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
			return nil, errors.New("connection refused")
		},
	}
	bw := NewBatchWriter(newMockClient(conn), cfg)
	defer bw.Close()

	if err := bw.Write(processedEvent("alice", false)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	bw.timerFlush()

	if got := bw.Metrics().Failed; got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}

	// The next write reports the background failure and does not buffer
	// its event, so the caller can re-queue it.
	if err := bw.Write(processedEvent("bob", false)); err == nil {
		t.Fatal("Write() after failed timer flush should return the flush error")
	}
	if got := bw.Metrics().Pending; got != 0 {
		t.Errorf("Pending = %d, want 0", got)
	}

	// The error is reported once; writes then resume buffering.
	if err := bw.Write(processedEvent("bob", false)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := bw.Metrics().Pending; got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}
}
