// Package criteria はケース評価基準セットの管理ロジックを提供する。
package criteria

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/hireman/internal/model"
	"github.com/hitoshi/hireman/internal/repository"
)

// MetricsCollector は評価基準セットの書き込みメトリクスの収集インターフェース。
type MetricsCollector interface {
	RecordWriteSuccess(aggregate string)
	RecordWriteConflict(aggregate string)
}

// Service は評価基準セット管理のサービス層。
// クライアントは常に望ましい基準の完全なリストを提出し、
// 全置換セマンティクスで書き込まれる。
type Service struct {
	repo    repository.CriterionSetRepository
	metrics MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilを許容する。
func NewService(repo repository.CriterionSetRepository, metrics MetricsCollector) *Service {
	return &Service{repo: repo, metrics: metrics}
}

// Get は評価基準セットを取得する。未作成の場合はnilを返す。
func (s *Service) Get(ctx context.Context) (*model.CriterionSet, error) {
	return s.repo.Get(ctx)
}

// Replace は評価基準セットを全置換で書き込む。
// expectedVersion=0は初回作成を意味する。空のリストは基準セットの
// クリアを意味し、エラーではない。
func (s *Service) Replace(ctx context.Context, expectedVersion int, criteria []model.Criterion) (*model.CriterionSet, error) {
	for i, c := range criteria {
		if c.Title == "" {
			return nil, model.NewInvalidInputError(fmt.Sprintf("基準%dのタイトルが空です", i+1))
		}
	}

	set, err := s.repo.Replace(ctx, expectedVersion, criteria)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeVersionConflict {
			if s.metrics != nil {
				s.metrics.RecordWriteConflict("criterion_set")
			}
		}
		return nil, err
	}

	slog.Info("評価基準セットを更新しました",
		slog.Int("version", set.Version),
		slog.Int("criterion_count", len(set.Criteria)),
	)
	if s.metrics != nil {
		s.metrics.RecordWriteSuccess("criterion_set")
	}
	return set, nil
}
