package invitation

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/hireman/internal/model"
)

// AssignmentRepo は招待送付状態の永続化に必要なインターフェース。
// repository.InvitationRepositoryの部分集合として定義する。
type AssignmentRepo interface {
	// ListByEvaluation は評価プロセスの招待情報一覧を返す。
	ListByEvaluation(ctx context.Context, evaluationID string) ([]*model.InvitationAssignment, error)
	// MarkDeliveryAttempt は送付試行日時を記録する。
	MarkDeliveryAttempt(ctx context.Context, slotID string, at time.Time) error
	// MarkSent は送付成功を記録する。
	MarkSent(ctx context.Context, slotID string, checksum string, at time.Time) error
}

// MetricsCollector は招待送付メトリクスの収集インターフェース。
type MetricsCollector interface {
	RecordInvitationSent()
	RecordInvitationSkipped()
}

// ResendResult は選択的再送の結果を表す。
type ResendResult struct {
	Sent    []string // 送付した面接枠ID
	Skipped []string // 送付をスキップした面接枠ID（内容未変更または送付失敗）
}

// Service は招待の選択的再送のサービス層。
// チェックサムの比較により、割り当て内容が実際に変わった面接官にだけ
// 招待を再送する。全員への一斉再送は行わない。
type Service struct {
	repo    AssignmentRepo
	sender  Sender
	metrics MetricsCollector
	logger  *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilを許容する。
func NewService(repo AssignmentRepo, sender Sender, metrics MetricsCollector, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		sender:  sender,
		metrics: metrics,
		logger:  logger,
	}
}

// Resend は指定された面接枠の招待を選択的に再送する。
// slotIDsが空の場合は評価プロセスの全面接枠を対象とする。
// 前回送付時からチェックサムが変わっていない枠はスキップする。
// 送付に失敗した枠はlast_sent_checksumを変更せずスキップ扱いとし、
// 次回のスイープで再試行される。
func (s *Service) Resend(ctx context.Context, evaluationID string, slotIDs []string) (*ResendResult, error) {
	assignments, err := s.repo.ListByEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(slotIDs))
	for _, id := range slotIDs {
		requested[id] = true
	}

	result := &ResendResult{
		Sent:    []string{},
		Skipped: []string{},
	}

	for _, assignment := range assignments {
		if len(requested) > 0 && !requested[assignment.SlotID] {
			continue
		}

		if !NeedsResend(assignment) {
			result.Skipped = append(result.Skipped, assignment.SlotID)
			s.recordSkipped()
			continue
		}

		if s.deliver(ctx, assignment) {
			result.Sent = append(result.Sent, assignment.SlotID)
		} else {
			result.Skipped = append(result.Skipped, assignment.SlotID)
			s.recordSkipped()
		}
	}

	return result, nil
}

// Deliver は1件の招待を送付し、成功時に送付状態を確定する。
// 送付できた場合はtrueを返す。失敗時はlast_sent_checksumを変更せず、
// falseを返す。バックグラウンドスイープからの再試行に使用される。
func (s *Service) Deliver(ctx context.Context, assignment *model.InvitationAssignment) bool {
	if s.deliver(ctx, assignment) {
		return true
	}
	s.recordSkipped()
	return false
}

// deliver は1件の招待を送付し、成功時に送付状態を確定する。
func (s *Service) deliver(ctx context.Context, assignment *model.InvitationAssignment) bool {
	now := time.Now()

	if err := s.repo.MarkDeliveryAttempt(ctx, assignment.SlotID, now); err != nil {
		s.logger.Error("送付試行日時の記録に失敗しました",
			slog.String("slot_id", assignment.SlotID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := s.sender.Send(ctx, assignment); err != nil {
		// 失敗時はlast_sent_checksumを変更しない（次回スイープで再試行）
		s.logger.Warn("招待の送付に失敗しました",
			slog.String("slot_id", assignment.SlotID),
			slog.String("evaluation_id", assignment.EvaluationID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := s.repo.MarkSent(ctx, assignment.SlotID, assignment.DetailsChecksum, now); err != nil {
		s.logger.Error("送付成功の記録に失敗しました",
			slog.String("slot_id", assignment.SlotID),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.logger.Info("招待を送付しました",
		slog.String("slot_id", assignment.SlotID),
		slog.String("evaluation_id", assignment.EvaluationID),
		slog.String("interviewer_id", assignment.InterviewerID),
	)
	if s.metrics != nil {
		s.metrics.RecordInvitationSent()
	}
	return true
}

// recordSkipped はスキップのメトリクスを記録する。
func (s *Service) recordSkipped() {
	if s.metrics != nil {
		s.metrics.RecordInvitationSkipped()
	}
}
