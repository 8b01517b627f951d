// Package candidate は候補者管理のビジネスロジックを提供する。
package candidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/hitoshi/hireman/internal/model"
	"github.com/hitoshi/hireman/internal/repository"
	"github.com/hitoshi/hireman/internal/security"
)

// MetricsCollector は候補者の書き込みメトリクスの収集インターフェース。
type MetricsCollector interface {
	RecordWriteSuccess(aggregate string)
	RecordWriteConflict(aggregate string)
}

// Service は候補者管理のサービス層。
type Service struct {
	repo      repository.CandidateRepository
	sanitizer security.NoteSanitizerService
	metrics   MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilを許容する。
func NewService(repo repository.CandidateRepository, sanitizer security.NoteSanitizerService, metrics MetricsCollector) *Service {
	return &Service{repo: repo, sanitizer: sanitizer, metrics: metrics}
}

// Get は候補者を取得する。見つからない場合はnilを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Candidate, error) {
	return s.repo.FindByID(ctx, id)
}

// List は候補者一覧を作成日時降順で返す。
func (s *Service) List(ctx context.Context) ([]*model.Candidate, error) {
	return s.repo.List(ctx)
}

// Create は候補者を登録する。ステージ未指定の場合はappliedで開始する。
func (s *Service) Create(ctx context.Context, candidate *model.Candidate) (*model.Candidate, error) {
	if candidate.Name == "" {
		return nil, model.NewInvalidInputError("氏名が空です")
	}
	if candidate.Email != "" {
		if _, err := mail.ParseAddress(candidate.Email); err != nil {
			return nil, model.NewInvalidInputError(fmt.Sprintf("メールアドレスの形式が不正です: %s", candidate.Email))
		}
	}
	if candidate.Stage == "" {
		candidate.Stage = model.StageApplied
	}
	if !candidate.Stage.IsValid() {
		return nil, model.NewInvalidInputError(fmt.Sprintf("無効な選考ステージです: %s", candidate.Stage))
	}

	candidate.Notes = s.sanitizer.Sanitize(candidate.Notes)

	if err := s.repo.Create(ctx, candidate); err != nil {
		return nil, fmt.Errorf("候補者の作成に失敗しました: %w", err)
	}

	slog.Info("候補者を登録しました",
		slog.String("candidate_id", candidate.ID),
		slog.String("stage", string(candidate.Stage)),
	)
	if s.metrics != nil {
		s.metrics.RecordWriteSuccess("candidate")
	}
	return candidate, nil
}

// Update は楽観ロック付きで候補者を部分更新する。
// nilフィールドは変更せず、既存の値を維持する。
func (s *Service) Update(ctx context.Context, id string, expectedVersion int, patch repository.CandidatePatch) (*model.Candidate, error) {
	if patch.Name != nil && *patch.Name == "" {
		return nil, model.NewInvalidInputError("氏名を空にはできません")
	}
	if patch.Email != nil && *patch.Email != "" {
		if _, err := mail.ParseAddress(*patch.Email); err != nil {
			return nil, model.NewInvalidInputError(fmt.Sprintf("メールアドレスの形式が不正です: %s", *patch.Email))
		}
	}
	if patch.Stage != nil && !patch.Stage.IsValid() {
		return nil, model.NewInvalidInputError(fmt.Sprintf("無効な選考ステージです: %s", *patch.Stage))
	}
	if patch.Notes != nil {
		sanitized := s.sanitizer.Sanitize(*patch.Notes)
		patch.Notes = &sanitized
	}

	candidate, err := s.repo.Update(ctx, id, expectedVersion, patch)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeVersionConflict {
			if s.metrics != nil {
				s.metrics.RecordWriteConflict("candidate")
			}
		}
		return nil, err
	}

	slog.Info("候補者を更新しました",
		slog.String("candidate_id", id),
		slog.Int("version", candidate.Version),
	)
	if s.metrics != nil {
		s.metrics.RecordWriteSuccess("candidate")
	}
	return candidate, nil
}

// Delete は候補者を削除する。関連する評価プロセスと招待情報も
// CASCADE削除される。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("候補者を削除しました", slog.String("candidate_id", id))
	return nil
}
