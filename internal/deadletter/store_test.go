package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
)

func testEntry(eventType, payload string) Entry {
	enq := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Entry{
		ID:         uuid.New(),
		EventType:  eventType,
		Payload:    json.RawMessage(payload),
		Reason:     "evicted",
		Attempts:   1,
		EnqueuedAt: enq,
		RecordedAt: enq.Add(time.Second),
	}
}

func TestStore_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "dead_letters"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	s := NewStore(mock, "dead_letters")
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer mock.Close()

	a := testEntry("note.sent", `{"n":1}`)
	b := testEntry("note.sent", `{"n":2}`)

	eb := mock.ExpectBatch()
	eb.ExpectExec(`INSERT INTO "dead_letters"`).
		WithArgs(a.ID, a.EventType, `{"n":1}`, a.Reason, a.Attempts, a.EnqueuedAt, a.RecordedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	eb.ExpectExec(`INSERT INTO "dead_letters"`).
		WithArgs(b.ID, b.EventType, `{"n":2}`, b.Reason, b.Attempts, b.EnqueuedAt, b.RecordedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0)) // already recorded

	s := NewStore(mock, "dead_letters")
	inserted, err := s.Insert(context.Background(), []Entry{a, b})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if inserted != 1 {
		t.Errorf("inserted = %d, want 1", inserted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_InsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer mock.Close()

	errDisk := errors.New("disk full")
	eb := mock.ExpectBatch()
	eb.ExpectExec(`INSERT INTO "dead_letters"`).WillReturnError(errDisk)

	s := NewStore(mock, "dead_letters")
	_, err = s.Insert(context.Background(), []Entry{testEntry("note.sent", `{}`)})
	if !errors.Is(err, errDisk) {
		t.Errorf("Insert() error = %v, want %v", err, errDisk)
	}
}

func TestStore_InsertEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer mock.Close()

	s := NewStore(mock, "dead_letters")
	inserted, err := s.Insert(context.Background(), nil)
	if err != nil || inserted != 0 {
		t.Errorf("Insert(nil) = %d, %v, want 0, nil", inserted, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
