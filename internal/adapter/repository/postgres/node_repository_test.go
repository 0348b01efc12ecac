package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/V4T54L/fleetgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockRepo(t *testing.T, interval time.Duration) (*NodeRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewNodeRepository(db, interval, nil, testLogger()), mock
}

func TestNodeRepository_Register(t *testing.T) {
	repo, mock := newMockRepo(t, time.Minute)
	enrolled := time.Date(2021, 5, 8, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO nodes").
		WithArgs("host-1", "abcd", `{"os":"linux"}`, enrolled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Register(context.Background(), domain.Node{
		HostIdentifier:     "host-1",
		NodeKeyFingerprint: "abcd",
		HostDetails:        json.RawMessage(`{"os":"linux"}`),
		EnrolledAt:         enrolled,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNodeRepository_RegisterError(t *testing.T) {
	repo, mock := newMockRepo(t, time.Minute)

	mock.ExpectExec("INSERT INTO nodes").
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "nodes" does not exist`})

	err := repo.Register(context.Background(), domain.Node{HostIdentifier: "host-1", EnrolledAt: time.Now()})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "undefined_table") {
		t.Errorf("expected the postgres code name in %q", err)
	}
}

func TestNodeRepository_TouchIsThrottled(t *testing.T) {
	repo, mock := newMockRepo(t, time.Minute)
	start := time.Date(2021, 5, 8, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE nodes SET last_seen").
		WithArgs("host-1", start).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE nodes SET last_seen").
		WithArgs("host-1", start.Add(2*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	for _, offset := range []time.Duration{0, 10 * time.Second, 59 * time.Second, 2 * time.Minute} {
		if err := repo.Touch(context.Background(), "host-1", start.Add(offset)); err != nil {
			t.Fatalf("touch at +%s failed: %v", offset, err)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expected exactly two writes: %v", err)
	}
}

func TestNodeRepository_TouchFailureIsNotCached(t *testing.T) {
	repo, mock := newMockRepo(t, time.Minute)
	now := time.Date(2021, 5, 8, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE nodes SET last_seen").WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("UPDATE nodes SET last_seen").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Touch(context.Background(), "host-1", now); err == nil {
		t.Fatal("expected the first touch to fail")
	}
	if err := repo.Touch(context.Background(), "host-1", now.Add(time.Second)); err != nil {
		t.Fatalf("expected the retry to reach the database: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
