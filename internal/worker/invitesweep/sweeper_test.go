package invitesweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/hireman/internal/model"
)

// --- モック定義 ---

type mockPendingLister struct {
	listFn func(ctx context.Context, limit int) ([]*model.InvitationAssignment, error)
}

func (m *mockPendingLister) ListPendingResend(ctx context.Context, limit int) ([]*model.InvitationAssignment, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit)
	}
	return nil, nil
}

type mockDeliverer struct {
	deliverFn func(ctx context.Context, assignment *model.InvitationAssignment) bool
	delivered []string
}

func (m *mockDeliverer) Deliver(ctx context.Context, assignment *model.InvitationAssignment) bool {
	m.delivered = append(m.delivered, assignment.SlotID)
	if m.deliverFn != nil {
		return m.deliverFn(ctx, assignment)
	}
	return true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func pendingAssignments(slotIDs ...string) []*model.InvitationAssignment {
	assignments := make([]*model.InvitationAssignment, len(slotIDs))
	for i, id := range slotIDs {
		assignments[i] = &model.InvitationAssignment{
			SlotID:           id,
			EvaluationID:     "ev-1",
			DetailsChecksum:  "new-checksum",
			LastSentChecksum: "old-checksum",
		}
	}
	return assignments
}

// --- テスト ---

func TestRunOnce_DeliversAllPending(t *testing.T) {
	repo := &mockPendingLister{
		listFn: func(ctx context.Context, limit int) ([]*model.InvitationAssignment, error) {
			return pendingAssignments("slot-1", "slot-2", "slot-3"), nil
		},
	}
	deliverer := &mockDeliverer{}

	sweeper := NewSweeper(repo, deliverer, testLogger(), 50, 3)

	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(deliverer.delivered) != 3 {
		t.Errorf("delivered = %d, want 3", len(deliverer.delivered))
	}
}

func TestRunOnce_PassesBatchSizeAsLimit(t *testing.T) {
	var capturedLimit int
	repo := &mockPendingLister{
		listFn: func(ctx context.Context, limit int) ([]*model.InvitationAssignment, error) {
			capturedLimit = limit
			return nil, nil
		},
	}

	sweeper := NewSweeper(repo, &mockDeliverer{}, testLogger(), 25, 3)

	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if capturedLimit != 25 {
		t.Errorf("limit = %d, want 25", capturedLimit)
	}
}

func TestRunOnce_NoPending_NoDelivery(t *testing.T) {
	repo := &mockPendingLister{}
	deliverer := &mockDeliverer{}

	sweeper := NewSweeper(repo, deliverer, testLogger(), 50, 3)

	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deliverer.delivered) != 0 {
		t.Errorf("delivered = %d, want 0", len(deliverer.delivered))
	}
}

func TestRunOnce_ListError_IsReturned(t *testing.T) {
	repo := &mockPendingLister{
		listFn: func(ctx context.Context, limit int) ([]*model.InvitationAssignment, error) {
			return nil, errors.New("db down")
		},
	}

	sweeper := NewSweeper(repo, &mockDeliverer{}, testLogger(), 50, 3)

	if err := sweeper.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunOnce_FailedDelivery_EntersBackoff(t *testing.T) {
	repo := &mockPendingLister{
		listFn: func(ctx context.Context, limit int) ([]*model.InvitationAssignment, error) {
			return pendingAssignments("slot-1"), nil
		},
	}
	deliverer := &mockDeliverer{
		deliverFn: func(ctx context.Context, assignment *model.InvitationAssignment) bool {
			return false
		},
	}

	sweeper := NewSweeper(repo, deliverer, testLogger(), 50, 3)

	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sweeper.FailureCount("slot-1") != 1 {
		t.Errorf("failure count = %d, want 1", sweeper.FailureCount("slot-1"))
	}

	// バックオフ期間中の2回目のサイクルでは試行されないこと
	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deliverer.delivered) != 1 {
		t.Errorf("delivered = %d, want 1 (second attempt should be deferred)", len(deliverer.delivered))
	}
}

func TestRunOnce_SuccessfulDelivery_ClearsFailureState(t *testing.T) {
	repo := &mockPendingLister{
		listFn: func(ctx context.Context, limit int) ([]*model.InvitationAssignment, error) {
			return pendingAssignments("slot-1"), nil
		},
	}

	failOnce := true
	deliverer := &mockDeliverer{
		deliverFn: func(ctx context.Context, assignment *model.InvitationAssignment) bool {
			if failOnce {
				failOnce = false
				return false
			}
			return true
		},
	}

	sweeper := NewSweeper(repo, deliverer, testLogger(), 50, 3)

	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sweeper.FailureCount("slot-1") != 1 {
		t.Fatalf("failure count = %d, want 1", sweeper.FailureCount("slot-1"))
	}

	// バックオフを明けさせるため、失敗状態を直接書き換える
	sweeper.mu.Lock()
	sweeper.failures["slot-1"].nextAttemptAt = time.Now().Add(-1 * time.Second)
	sweeper.mu.Unlock()

	if err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sweeper.FailureCount("slot-1") != 0 {
		t.Errorf("failure count = %d, want 0 after success", sweeper.FailureCount("slot-1"))
	}
}

func TestNewSweeper_DefaultsApplied(t *testing.T) {
	sweeper := NewSweeper(&mockPendingLister{}, &mockDeliverer{}, testLogger(), 0, 0)

	if sweeper.batchSize != 50 {
		t.Errorf("batchSize = %d, want 50", sweeper.batchSize)
	}
	if sweeper.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", sweeper.maxRetries)
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	repo := &mockPendingLister{}
	sweeper := NewSweeper(repo, &mockDeliverer{}, testLogger(), 50, 3)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("sweeper did not stop after context cancel")
	}
}

func TestCalculateBackoff_ExponentialGrowth(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 1 * time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{5, 32 * time.Minute},
		{6, 1 * time.Hour},  // 64分 > 上限
		{10, 1 * time.Hour}, // 上限で頭打ち
	}

	for _, tt := range tests {
		if got := CalculateBackoff(tt.failures); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}
