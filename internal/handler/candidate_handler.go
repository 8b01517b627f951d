package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/hireman/internal/model"
	"github.com/hitoshi/hireman/internal/repository"
)

// CandidateServiceInterface は候補者ハンドラーが必要とするサービスインターフェース。
type CandidateServiceInterface interface {
	// Get は候補者を取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, id string) (*model.Candidate, error)
	// List は候補者一覧を作成日時の降順で返す。
	List(ctx context.Context) ([]*model.Candidate, error)
	// Create は候補者を新規登録する。
	Create(ctx context.Context, candidate *model.Candidate) (*model.Candidate, error)
	// Update は候補者を楽観ロック付きで部分更新する。
	Update(ctx context.Context, id string, expectedVersion int, patch repository.CandidatePatch) (*model.Candidate, error)
	// Delete は候補者と関連する評価プロセスを削除する。
	Delete(ctx context.Context, id string) error
}

// CandidateHandler は候補者管理のHTTPハンドラー。
type CandidateHandler struct {
	service CandidateServiceInterface
}

// NewCandidateHandler はCandidateHandlerを生成する。
func NewCandidateHandler(service CandidateServiceInterface) *CandidateHandler {
	return &CandidateHandler{
		service: service,
	}
}

// candidateResponse は候補者情報のAPIレスポンス。
type candidateResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Source    string    `json:"source"`
	Stage     string    `json:"stage"`
	Notes     string    `json:"notes"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// createCandidateRequest は候補者登録リクエストのボディ。
type createCandidateRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Source string `json:"source"`
	Stage  string `json:"stage"`
	Notes  string `json:"notes"`
}

// updateCandidateRequest は候補者部分更新リクエストのボディ。
// nilのフィールドは変更しない。Versionは楽観ロックの期待バージョン。
type updateCandidateRequest struct {
	Version int     `json:"version"`
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Source  *string `json:"source"`
	Stage   *string `json:"stage"`
	Notes   *string `json:"notes"`
}

// ListCandidates は候補者一覧を取得する。
// GET /api/candidates
func (h *CandidateHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]candidateResponse, len(candidates))
	for i, c := range candidates {
		results[i] = toCandidateResponse(c)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// GetCandidate は候補者詳細を取得する。
// GET /api/candidates/:id
func (h *CandidateHandler) GetCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	candidate, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if candidate == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewCandidateNotFoundError(id))
		return
	}

	resp := toCandidateResponse(candidate)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// CreateCandidate は候補者を新規登録する。
// POST /api/candidates
func (h *CandidateHandler) CreateCandidate(w http.ResponseWriter, r *http.Request) {
	var req createCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	candidate, err := h.service.Create(r.Context(), &model.Candidate{
		Name:   req.Name,
		Email:  req.Email,
		Source: req.Source,
		Stage:  model.CandidateStage(req.Stage),
		Notes:  req.Notes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toCandidateResponse(candidate)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// UpdateCandidate は候補者を楽観ロック付きで部分更新する。
// PATCH /api/candidates/:id
func (h *CandidateHandler) UpdateCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	patch := repository.CandidatePatch{
		Name:   req.Name,
		Email:  req.Email,
		Source: req.Source,
		Notes:  req.Notes,
	}
	if req.Stage != nil {
		stage := model.CandidateStage(*req.Stage)
		patch.Stage = &stage
	}

	candidate, err := h.service.Update(r.Context(), id, req.Version, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toCandidateResponse(candidate)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// DeleteCandidate は候補者を削除する。関連する評価プロセスもCASCADE削除される。
// DELETE /api/candidates/:id
func (h *CandidateHandler) DeleteCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toCandidateResponse はドメインのCandidateをhandlerのレスポンス型に変換する。
func toCandidateResponse(c *model.Candidate) candidateResponse {
	return candidateResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Source:    c.Source,
		Stage:     string(c.Stage),
		Notes:     c.Notes,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
