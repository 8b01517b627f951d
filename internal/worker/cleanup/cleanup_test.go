package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

// --- モック定義 ---

type mockSessionDeleter struct {
	deleteExpiredFn func(ctx context.Context) (int64, error)
	callCount       int
}

func (m *mockSessionDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	m.callCount++
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// --- テスト ---

func TestRun_DeletesExpiredSessions(t *testing.T) {
	repo := &mockSessionDeleter{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			return 7, nil
		},
	}

	job := NewSessionCleanupJob(repo, testLogger())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.callCount != 1 {
		t.Errorf("callCount = %d, want 1", repo.callCount)
	}
}

func TestRun_NoExpiredSessions_Succeeds(t *testing.T) {
	repo := &mockSessionDeleter{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			return 0, nil
		},
	}

	job := NewSessionCleanupJob(repo, testLogger())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_RepositoryError_IsWrapped(t *testing.T) {
	repo := &mockSessionDeleter{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}

	job := NewSessionCleanupJob(repo, testLogger())

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestStart_RunsPeriodically(t *testing.T) {
	repo := &mockSessionDeleter{}
	job := NewSessionCleanupJob(repo, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("job did not stop after context cancel")
	}

	if repo.callCount == 0 {
		t.Error("DeleteExpired should have been called at least once")
	}
}

func TestStart_ContinuesAfterError(t *testing.T) {
	repo := &mockSessionDeleter{
		deleteExpiredFn: func(ctx context.Context) (int64, error) {
			return 0, errors.New("transient failure")
		},
	}
	job := NewSessionCleanupJob(repo, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	// エラーが続いても実行が継続されること
	if repo.callCount < 2 {
		t.Errorf("callCount = %d, want >= 2", repo.callCount)
	}
}
