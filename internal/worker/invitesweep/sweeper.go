// Package invitesweep は未送付招待のバックグラウンド再送処理を提供する。
// スイーパーは一定間隔でチェックサム不一致の招待を取得し、
// 指数バックオフ付きで送付を再試行する。
package invitesweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hireman/internal/model"
)

// PendingLister は再送対象の招待情報の取得インターフェース。
type PendingLister interface {
	// ListPendingResend は再送が必要な招待情報を取得する。
	// details_checksum != last_sent_checksum の行のみが対象となる。
	ListPendingResend(ctx context.Context, limit int) ([]*model.InvitationAssignment, error)
}

// Deliverer は1件の招待の送付インターフェース。invitation.Serviceが満たす。
type Deliverer interface {
	// Deliver は1件の招待を送付する。送付できた場合はtrueを返す。
	Deliver(ctx context.Context, assignment *model.InvitationAssignment) bool
}

// failureState は面接枠ごとの送付失敗の追跡状態。
type failureState struct {
	consecutiveFailures int
	nextAttemptAt       time.Time
}

// Sweeper は未送付招待のバックグラウンド再送スイーパー。
// ゲートウェイ障害時の集中再試行を避けるため、失敗した面接枠には
// 面接枠単位の指数バックオフを適用する。失敗状態はプロセスローカルであり、
// 再起動後は全対象が即時再試行される。
type Sweeper struct {
	repo       PendingLister
	deliverer  Deliverer
	logger     *slog.Logger
	batchSize  int
	maxRetries int

	mu       sync.Mutex
	failures map[string]*failureState
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値50を、
// maxRetriesが0以下の場合はデフォルト値3を使用する。
func NewSweeper(repo PendingLister, deliverer Deliverer, logger *slog.Logger, batchSize, maxRetries int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Sweeper{
		repo:       repo,
		deliverer:  deliverer,
		logger:     logger,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		failures:   make(map[string]*failureState),
	}
}

// Start は指定間隔のティッカーでスイーパーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("招待再送スイーパーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.batchSize),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("招待再送サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("招待再送スイーパーを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("招待再送サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は再送対象の招待を1回取得し、順次送付を試行する。
// バックオフ期間中の面接枠はスキップする。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	assignments, err := s.repo.ListPendingResend(ctx, s.batchSize)
	if err != nil {
		return err
	}

	if len(assignments) == 0 {
		return nil
	}

	s.logger.Info("招待再送サイクルを開始します",
		slog.Int("pending_count", len(assignments)),
	)

	var sent, deferred, failed int
	for _, assignment := range assignments {
		if !s.shouldAttempt(assignment.SlotID, start) {
			deferred++
			continue
		}

		if s.deliverer.Deliver(ctx, assignment) {
			s.clearFailure(assignment.SlotID)
			sent++
		} else {
			s.recordFailure(assignment.SlotID)
			failed++
		}
	}

	duration := time.Since(start)
	s.logger.Info("招待再送サイクルが完了しました",
		slog.Int("sent", sent),
		slog.Int("failed", failed),
		slog.Int("deferred", deferred),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// shouldAttempt は面接枠への送付を試行すべきかを返す。
// バックオフ期間が明けていない枠はfalseを返す。
func (s *Sweeper) shouldAttempt(slotID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.failures[slotID]
	if !ok {
		return true
	}
	return !now.Before(state.nextAttemptAt)
}

// recordFailure は送付失敗を記録し、次回試行日時を指数バックオフで設定する。
func (s *Sweeper) recordFailure(slotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.failures[slotID]
	if !ok {
		state = &failureState{}
		s.failures[slotID] = state
	}
	state.consecutiveFailures++
	state.nextAttemptAt = time.Now().Add(CalculateBackoff(state.consecutiveFailures - 1))

	if state.consecutiveFailures >= s.maxRetries {
		s.logger.Error("招待の送付失敗が上限に達しました",
			slog.String("slot_id", slotID),
			slog.Int("consecutive_failures", state.consecutiveFailures),
		)
	}
}

// clearFailure は送付成功時に失敗状態をクリアする。
func (s *Sweeper) clearFailure(slotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, slotID)
}

// FailureCount は指定面接枠の連続失敗回数を返す。テスト用。
func (s *Sweeper) FailureCount(slotID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.failures[slotID]; ok {
		return state.consecutiveFailures
	}
	return 0
}
