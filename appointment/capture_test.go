package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeTx satisfies pgx.Tx for the commit/rollback calls the capture service
// makes; everything else panics via the embedded nil interface.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return f.commitErr
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx       *fakeTx
	beginErr error
}

func (f *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

type fakeCaptureRepo struct {
	keys       map[string]bool
	keyErr     error
	executeErr error
	executed   []CaptureRequest
}

func newFakeCaptureRepo() *fakeCaptureRepo {
	return &fakeCaptureRepo{keys: make(map[string]bool)}
}

func (f *fakeCaptureRepo) InsertIdempotencyKey(_ context.Context, _ pgx.Tx, key string) error {
	if f.keyErr != nil {
		return f.keyErr
	}
	if f.keys[key] {
		return ErrDuplicateIdempotencyKey
	}
	f.keys[key] = true
	return nil
}

func (f *fakeCaptureRepo) ExecuteCaptureTx(_ context.Context, _ pgx.Tx, req CaptureRequest) error {
	if f.executeErr != nil {
		return f.executeErr
	}
	f.executed = append(f.executed, req)
	return nil
}

func TestCaptureService_AppliesOnce(t *testing.T) {
	repo := newFakeCaptureRepo()
	tx := &fakeTx{}
	svc := NewCaptureService(&fakeBeginner{tx: tx}, repo)

	req := CaptureRequest{
		AppointmentID:  "appt-1",
		IdempotencyKey: "cap-1",
		ProcessorRef:   "gw-ref-1",
	}
	if err := svc.HandleCaptureWebhook(context.Background(), req); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if !tx.committed {
		t.Fatal("expected commit on first delivery")
	}
	if len(repo.executed) != 1 || repo.executed[0].AppointmentID != "appt-1" {
		t.Fatalf("expected one capture, got %+v", repo.executed)
	}
}

func TestCaptureService_ReplayIsNoOp(t *testing.T) {
	repo := newFakeCaptureRepo()
	svc := NewCaptureService(&fakeBeginner{tx: &fakeTx{}}, repo)

	req := CaptureRequest{AppointmentID: "appt-1", IdempotencyKey: "cap-1"}
	if err := svc.HandleCaptureWebhook(context.Background(), req); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	replayTx := &fakeTx{}
	svc = NewCaptureService(&fakeBeginner{tx: replayTx}, repo)
	if err := svc.HandleCaptureWebhook(context.Background(), req); err != nil {
		t.Fatalf("replay should be silently dropped, got %v", err)
	}
	if replayTx.committed {
		t.Fatal("replay must not commit")
	}
	if !replayTx.rolledBack {
		t.Fatal("replay must roll back the reservation attempt")
	}
	if len(repo.executed) != 1 {
		t.Fatalf("expected exactly one capture, got %d", len(repo.executed))
	}
}

func TestCaptureService_MissingFields(t *testing.T) {
	svc := NewCaptureService(&fakeBeginner{tx: &fakeTx{}}, newFakeCaptureRepo())

	if err := svc.HandleCaptureWebhook(context.Background(), CaptureRequest{AppointmentID: "a"}); err == nil {
		t.Fatal("expected error for missing idempotency key")
	}
	if err := svc.HandleCaptureWebhook(context.Background(), CaptureRequest{IdempotencyKey: "k"}); err == nil {
		t.Fatal("expected error for missing appointment id")
	}
}

func TestCaptureService_ExecuteFailureRollsBack(t *testing.T) {
	repo := newFakeCaptureRepo()
	repo.executeErr = ErrInvalidTransition
	tx := &fakeTx{}
	svc := NewCaptureService(&fakeBeginner{tx: tx}, repo)

	err := svc.HandleCaptureWebhook(context.Background(), CaptureRequest{
		AppointmentID:  "appt-1",
		IdempotencyKey: "cap-1",
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if tx.committed {
		t.Fatal("failed capture must not commit")
	}
	if !tx.rolledBack {
		t.Fatal("failed capture must roll back")
	}
}

func TestCaptureService_BeginError(t *testing.T) {
	svc := NewCaptureService(&fakeBeginner{beginErr: errors.New("pool exhausted")}, newFakeCaptureRepo())
	err := svc.HandleCaptureWebhook(context.Background(), CaptureRequest{
		AppointmentID:  "appt-1",
		IdempotencyKey: "cap-1",
	})
	if err == nil {
		t.Fatal("expected begin error to surface")
	}
}
