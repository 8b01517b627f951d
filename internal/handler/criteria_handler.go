package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/hireman/internal/model"
)

// CriteriaServiceInterface は評価基準ハンドラーが必要とするサービスインターフェース。
type CriteriaServiceInterface interface {
	// Get は評価基準セットを取得する。未作成の場合はnilを返す。
	Get(ctx context.Context) (*model.CriterionSet, error)
	// Replace は評価基準セット全体を全置換セマンティクスで書き込む。
	Replace(ctx context.Context, expectedVersion int, criteria []model.Criterion) (*model.CriterionSet, error)
}

// CriteriaHandler はケース評価基準管理のHTTPハンドラー。
type CriteriaHandler struct {
	service CriteriaServiceInterface
}

// NewCriteriaHandler はCriteriaHandlerを生成する。
func NewCriteriaHandler(service CriteriaServiceInterface) *CriteriaHandler {
	return &CriteriaHandler{
		service: service,
	}
}

// criterionResponse は評価基準1項目のAPIレスポンス。
type criterionResponse struct {
	ID                 string                     `json:"id"`
	Title              string                     `json:"title"`
	RatingDescriptions [model.RatingLevels]string `json:"rating_descriptions"`
	OrderIndex         int                        `json:"order_index"`
}

// criterionSetResponse は評価基準セットのAPIレスポンス。
type criterionSetResponse struct {
	ID        string              `json:"id"`
	Criteria  []criterionResponse `json:"criteria"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// criterionRequest は評価基準1項目の提出内容。
// IDが空の場合はサーバー側で採番される。
type criterionRequest struct {
	ID                 string                     `json:"id"`
	Title              string                     `json:"title"`
	RatingDescriptions [model.RatingLevels]string `json:"rating_descriptions"`
}

// replaceCriteriaRequest は評価基準セット全置換リクエストのボディ。
// Versionは楽観ロックの期待バージョン。Criteriaの並び順がそのまま表示順になる。
type replaceCriteriaRequest struct {
	Version  int                `json:"version"`
	Criteria []criterionRequest `json:"criteria"`
}

// GetCriteria は評価基準セットを取得する。
// GET /api/criteria
func (h *CriteriaHandler) GetCriteria(w http.ResponseWriter, r *http.Request) {
	set, err := h.service.Get(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if set == nil {
		// 未作成時はバージョン0の空セットを返す。
		// クライアントはversion=0でPUTすることで初回作成できる。
		set = &model.CriterionSet{ID: model.CriterionSetID, Criteria: []model.Criterion{}}
	}

	resp := toCriterionSetResponse(set)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ReplaceCriteria は評価基準セット全体を置き換える。
// 提出内容に含まれない既存基準は削除される。
// PUT /api/criteria
func (h *CriteriaHandler) ReplaceCriteria(w http.ResponseWriter, r *http.Request) {
	var req replaceCriteriaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	criteria := make([]model.Criterion, len(req.Criteria))
	for i, c := range req.Criteria {
		criteria[i] = model.Criterion{
			ID:                 c.ID,
			Title:              c.Title,
			RatingDescriptions: c.RatingDescriptions,
			OrderIndex:         i,
		}
	}

	set, err := h.service.Replace(r.Context(), req.Version, criteria)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toCriterionSetResponse(set)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// toCriterionSetResponse はドメインのCriterionSetをhandlerのレスポンス型に変換する。
func toCriterionSetResponse(set *model.CriterionSet) criterionSetResponse {
	criteria := make([]criterionResponse, len(set.Criteria))
	for i, c := range set.Criteria {
		criteria[i] = criterionResponse{
			ID:                 c.ID,
			Title:              c.Title,
			RatingDescriptions: c.RatingDescriptions,
			OrderIndex:         c.OrderIndex,
		}
	}

	return criterionSetResponse{
		ID:        set.ID,
		Criteria:  criteria,
		Version:   set.Version,
		CreatedAt: set.CreatedAt,
		UpdatedAt: set.UpdatedAt,
	}
}
