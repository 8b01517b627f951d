package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/hireman/internal/model"
	"github.com/hitoshi/hireman/internal/repository"
	"github.com/hitoshi/hireman/internal/security"
)

// MetricsCollector は評価プロセスの書き込みメトリクスの収集インターフェース。
type MetricsCollector interface {
	RecordWriteSuccess(aggregate string)
	RecordWriteConflict(aggregate string)
	RecordDecision(decision string)
}

// Service は評価プロセス管理のサービス層。
// 入力検証とメモのサニタイズを行った上で、集約の読み書きを
// リポジトリの楽観ロック経路に委譲する。
type Service struct {
	evalRepo      repository.EvaluationRepository
	candidateRepo repository.CandidateRepository
	sanitizer     security.NoteSanitizerService
	linkGuard     security.LinkGuardService
	metrics       MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilを許容する。
func NewService(
	evalRepo repository.EvaluationRepository,
	candidateRepo repository.CandidateRepository,
	sanitizer security.NoteSanitizerService,
	linkGuard security.LinkGuardService,
	metrics MetricsCollector,
) *Service {
	return &Service{
		evalRepo:      evalRepo,
		candidateRepo: candidateRepo,
		sanitizer:     sanitizer,
		linkGuard:     linkGuard,
		metrics:       metrics,
	}
}

// Get は評価プロセスを取得する。見つからない場合はnilを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Evaluation, error) {
	return s.evalRepo.FindByID(ctx, id)
}

// ListByCandidate は候補者の評価プロセス一覧を返す。
func (s *Service) ListByCandidate(ctx context.Context, candidateID string) ([]*model.Evaluation, error) {
	return s.evalRepo.ListByCandidate(ctx, candidateID)
}

// Create は候補者の評価プロセスを第1ラウンドの面接枠付きで作成する。
func (s *Service) Create(ctx context.Context, candidateID string, slots []model.InterviewSlot) (*model.Evaluation, error) {
	candidate, err := s.candidateRepo.FindByID(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("候補者の取得に失敗しました: %w", err)
	}
	if candidate == nil {
		return nil, model.NewCandidateNotFoundError(candidateID)
	}

	if err := s.validateSlots(slots); err != nil {
		return nil, err
	}

	eval := &model.Evaluation{
		CandidateID:        candidateID,
		CurrentRoundNumber: 1,
		InterviewSlots:     slots,
		ProcessStatus:      model.ProcessStatusDraft,
		RoundStartedAt:     time.Now(),
	}

	if err := s.evalRepo.Create(ctx, eval); err != nil {
		return nil, s.observeWriteError(err)
	}

	slog.Info("評価プロセスを作成しました",
		slog.String("evaluation_id", eval.ID),
		slog.String("candidate_id", candidateID),
		slog.Int("slot_count", len(slots)),
	)
	s.recordWriteSuccess()
	return eval, nil
}

// ReplaceSlots は現在ラウンドの面接枠を全置換する。
// クライアントは望ましい面接枠の完全なリストと最後に観測した
// バージョンを提出する。
func (s *Service) ReplaceSlots(ctx context.Context, id string, expectedVersion int, slots []model.InterviewSlot) (*model.Evaluation, error) {
	if err := s.validateSlots(slots); err != nil {
		return nil, err
	}

	eval, err := s.evalRepo.Mutate(ctx, id, expectedVersion, func(eval *model.Evaluation) error {
		return ReplaceSlots(eval, slots)
	})
	if err != nil {
		return nil, s.observeWriteError(err)
	}

	s.recordWriteSuccess()
	return eval, nil
}

// SubmitForm は面接官のフォーム入力を保存する。
// expectedVersion=0の場合は現在のバージョンに対して書き込む
// （フォーム提出は集約構造を編集しないため、面接官にバージョンの
// 引き回しを要求しない）。メモは保存前にサニタイズされる。
func (s *Service) SubmitForm(ctx context.Context, id string, expectedVersion int, slotID string, form model.InterviewForm) (*model.Evaluation, error) {
	if expectedVersion == 0 {
		current, err := s.evalRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, model.NewEvaluationNotFoundError(id)
		}
		expectedVersion = current.Version
	}

	form.Notes = s.sanitizer.Sanitize(form.Notes)

	now := time.Now()
	eval, err := s.evalRepo.Mutate(ctx, id, expectedVersion, func(eval *model.Evaluation) error {
		return SubmitForm(eval, slotID, form, now)
	})
	if err != nil {
		return nil, s.observeWriteError(err)
	}

	slog.Info("面接フォームを保存しました",
		slog.String("evaluation_id", id),
		slog.String("slot_id", slotID),
		slog.Bool("submitted", form.Submitted),
	)
	s.recordWriteSuccess()
	return eval, nil
}

// RecordDecision は現在ラウンドを判定で確定する。
// progressの場合はnextSlotsで次ラウンドを開く。
func (s *Service) RecordDecision(ctx context.Context, id string, expectedVersion int, decision model.Decision, nextSlots []model.InterviewSlot) (*model.Evaluation, error) {
	if !decision.IsValid() {
		return nil, model.NewInvalidDecisionError(string(decision))
	}
	if decision == model.DecisionProgress {
		if err := s.validateSlots(nextSlots); err != nil {
			return nil, err
		}
	} else if len(nextSlots) > 0 {
		return nil, model.NewInvalidInputError("終了判定では次ラウンドの面接枠を指定できません")
	}

	now := time.Now()
	eval, err := s.evalRepo.Mutate(ctx, id, expectedVersion, func(eval *model.Evaluation) error {
		return RecordDecision(eval, decision, nextSlots, now)
	})
	if err != nil {
		return nil, s.observeWriteError(err)
	}

	slog.Info("ラウンド判定を記録しました",
		slog.String("evaluation_id", id),
		slog.String("decision", string(decision)),
		slog.Int("round_number", len(eval.RoundHistory)),
	)
	s.recordWriteSuccess()
	if s.metrics != nil {
		s.metrics.RecordDecision(string(decision))
	}
	return eval, nil
}

// Delete は評価プロセスを削除する。子行と招待情報も同時に削除される。
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.evalRepo.Delete(ctx, id)
}

// validateSlots は面接枠の入力を検証する。
// 面接官IDは必須、参照URLは指定された場合のみ安全性を検証する。
func (s *Service) validateSlots(slots []model.InterviewSlot) error {
	for i, slot := range slots {
		if slot.InterviewerID == "" {
			return model.NewInvalidInputError(fmt.Sprintf("面接枠%dの面接官IDが空です", i+1))
		}
		if slot.CaseFolderRef != "" {
			if err := s.linkGuard.ValidateURL(slot.CaseFolderRef); err != nil {
				return model.NewInvalidInputError(fmt.Sprintf("面接枠%dのケース資料URLが不正です: %v", i+1, err))
			}
		}
		if slot.FitQuestionRef != "" {
			if err := s.linkGuard.ValidateURL(slot.FitQuestionRef); err != nil {
				return model.NewInvalidInputError(fmt.Sprintf("面接枠%dのフィット質問URLが不正です: %v", i+1, err))
			}
		}
	}
	return nil
}

// observeWriteError は書き込みエラーのメトリクスを記録して返す。
// バージョン競合は複数編集者の通常動作であり、障害としては扱わない。
func (s *Service) observeWriteError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeVersionConflict {
		if s.metrics != nil {
			s.metrics.RecordWriteConflict("evaluation")
		}
	}
	return err
}

// recordWriteSuccess は書き込み成功のメトリクスを記録する。
func (s *Service) recordWriteSuccess() {
	if s.metrics != nil {
		s.metrics.RecordWriteSuccess("evaluation")
	}
}
