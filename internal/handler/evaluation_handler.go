package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/hireman/internal/invitation"
	"github.com/hitoshi/hireman/internal/model"
)

// EvaluationServiceInterface は評価プロセスハンドラーが必要とするサービスインターフェース。
type EvaluationServiceInterface interface {
	// Get は評価プロセスを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, id string) (*model.Evaluation, error)
	// ListByCandidate は候補者の評価プロセス一覧を返す。
	ListByCandidate(ctx context.Context, candidateID string) ([]*model.Evaluation, error)
	// Create は候補者の評価プロセスを新規作成する。
	Create(ctx context.Context, candidateID string, slots []model.InterviewSlot) (*model.Evaluation, error)
	// ReplaceSlots は現在ラウンドの面接枠を全置換する。
	ReplaceSlots(ctx context.Context, id string, expectedVersion int, slots []model.InterviewSlot) (*model.Evaluation, error)
	// SubmitForm は面接フォームを提出する。提出済みフォームは変更できない。
	SubmitForm(ctx context.Context, id string, expectedVersion int, slotID string, form model.InterviewForm) (*model.Evaluation, error)
	// RecordDecision はラウンドの判定を記録し、スナップショットを確定する。
	RecordDecision(ctx context.Context, id string, expectedVersion int, decision model.Decision, nextSlots []model.InterviewSlot) (*model.Evaluation, error)
	// Delete は評価プロセスを削除する。
	Delete(ctx context.Context, id string) error
}

// InvitationServiceInterface は招待再送ハンドラーが必要とするサービスインターフェース。
type InvitationServiceInterface interface {
	// Resend は指定された面接枠の招待を選択的に再送する。
	// slotIDsが空の場合は全面接枠を対象とする。
	Resend(ctx context.Context, evaluationID string, slotIDs []string) (*invitation.ResendResult, error)
}

// EvaluationHandler は評価プロセス管理のHTTPハンドラー。
type EvaluationHandler struct {
	service     EvaluationServiceInterface
	invitations InvitationServiceInterface
}

// NewEvaluationHandler はEvaluationHandlerを生成する。
func NewEvaluationHandler(service EvaluationServiceInterface, invitations InvitationServiceInterface) *EvaluationHandler {
	return &EvaluationHandler{
		service:     service,
		invitations: invitations,
	}
}

// slotResponse は面接枠のAPIレスポンス。
type slotResponse struct {
	SlotID          string `json:"slot_id"`
	InterviewerID   string `json:"interviewer_id"`
	InterviewerName string `json:"interviewer_name"`
	CaseFolderRef   string `json:"case_folder_ref"`
	FitQuestionRef  string `json:"fit_question_ref"`
	OrderIndex      int    `json:"order_index"`
}

// formResponse は面接フォームのAPIレスポンス。
type formResponse struct {
	SlotID              string             `json:"slot_id"`
	FitScore            float64            `json:"fit_score"`
	CaseScore           float64            `json:"case_score"`
	CriterionScores     map[string]float64 `json:"criterion_scores"`
	Notes               string             `json:"notes"`
	OfferRecommendation bool               `json:"offer_recommendation"`
	Submitted           bool               `json:"submitted"`
	SubmittedAt         *time.Time         `json:"submitted_at,omitempty"`
}

// roundSnapshotResponse は確定済みラウンドのAPIレスポンス。
type roundSnapshotResponse struct {
	RoundNumber int            `json:"round_number"`
	Interviews  []slotResponse `json:"interviews"`
	Forms       []formResponse `json:"forms"`
	Decision    string         `json:"decision"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// evaluationResponse は評価プロセスのAPIレスポンス。
type evaluationResponse struct {
	ID                 string                  `json:"id"`
	CandidateID        string                  `json:"candidate_id"`
	CurrentRoundNumber int                     `json:"current_round_number"`
	InterviewSlots     []slotResponse          `json:"interview_slots"`
	Forms              []formResponse          `json:"forms"`
	Decision           string                  `json:"decision"`
	ProcessStatus      string                  `json:"process_status"`
	RoundHistory       []roundSnapshotResponse `json:"round_history"`
	RoundStartedAt     time.Time               `json:"round_started_at"`
	Version            int                     `json:"version"`
	CreatedAt          time.Time               `json:"created_at"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

// slotRequest は面接枠の提出内容。SlotIDが空の場合はサーバー側で採番される。
type slotRequest struct {
	SlotID          string `json:"slot_id"`
	InterviewerID   string `json:"interviewer_id"`
	InterviewerName string `json:"interviewer_name"`
	CaseFolderRef   string `json:"case_folder_ref"`
	FitQuestionRef  string `json:"fit_question_ref"`
}

// createEvaluationRequest は評価プロセス作成リクエストのボディ。
type createEvaluationRequest struct {
	CandidateID    string        `json:"candidate_id"`
	InterviewSlots []slotRequest `json:"interview_slots"`
}

// replaceSlotsRequest は面接枠全置換リクエストのボディ。
// Versionは楽観ロックの期待バージョン。枠の並び順がそのまま表示順になる。
type replaceSlotsRequest struct {
	Version        int           `json:"version"`
	InterviewSlots []slotRequest `json:"interview_slots"`
}

// submitFormRequest は面接フォーム提出リクエストのボディ。
type submitFormRequest struct {
	Version             int                `json:"version"`
	FitScore            float64            `json:"fit_score"`
	CaseScore           float64            `json:"case_score"`
	CriterionScores     map[string]float64 `json:"criterion_scores"`
	Notes               string             `json:"notes"`
	OfferRecommendation bool               `json:"offer_recommendation"`
}

// decisionRequest はラウンド判定リクエストのボディ。
// NextSlotsはprogress判定時の次ラウンド面接枠。提出された内容がそのまま
// 次ラウンドの枠になるため、省略すると枠のない状態で次ラウンドが開き、
// 後からPUT /api/evaluations/:id で編成する。
type decisionRequest struct {
	Version   int           `json:"version"`
	Decision  string        `json:"decision"`
	NextSlots []slotRequest `json:"next_slots"`
}

// resendInvitationsRequest は招待再送リクエストのボディ。
// SlotIDsが空の場合は全面接枠を対象とする。
type resendInvitationsRequest struct {
	SlotIDs []string `json:"slot_ids"`
}

// resendInvitationsResponse は招待再送結果のAPIレスポンス。
type resendInvitationsResponse struct {
	Sent    []string `json:"sent"`
	Skipped []string `json:"skipped"`
}

// GetEvaluation は評価プロセス詳細を取得する。
// GET /api/evaluations/:id
func (h *EvaluationHandler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	eval, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if eval == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewEvaluationNotFoundError(id))
		return
	}

	resp := toEvaluationResponse(eval)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListEvaluationsByCandidate は候補者の評価プロセス一覧を取得する。
// GET /api/candidates/:id/evaluations
func (h *EvaluationHandler) ListEvaluationsByCandidate(w http.ResponseWriter, r *http.Request) {
	candidateID := chi.URLParam(r, "id")

	evals, err := h.service.ListByCandidate(r.Context(), candidateID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]evaluationResponse, len(evals))
	for i, e := range evals {
		results[i] = toEvaluationResponse(e)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// CreateEvaluation は評価プロセスを新規作成する。
// POST /api/evaluations
func (h *EvaluationHandler) CreateEvaluation(w http.ResponseWriter, r *http.Request) {
	var req createEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	eval, err := h.service.Create(r.Context(), req.CandidateID, toSlots(req.InterviewSlots))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toEvaluationResponse(eval)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// ReplaceSlots は現在ラウンドの面接枠を全置換する。
// 提出内容に含まれない枠と、その枠の未提出フォームは削除される。
// PUT /api/evaluations/:id
func (h *EvaluationHandler) ReplaceSlots(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req replaceSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	eval, err := h.service.ReplaceSlots(r.Context(), id, req.Version, toSlots(req.InterviewSlots))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toEvaluationResponse(eval)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SubmitForm は面接フォームを提出する。
// POST /api/evaluations/:id/forms/:slotId
func (h *EvaluationHandler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slotID := chi.URLParam(r, "slotId")

	var req submitFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	eval, err := h.service.SubmitForm(r.Context(), id, req.Version, slotID, model.InterviewForm{
		SlotID:              slotID,
		FitScore:            req.FitScore,
		CaseScore:           req.CaseScore,
		CriterionScores:     req.CriterionScores,
		Notes:               req.Notes,
		OfferRecommendation: req.OfferRecommendation,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toEvaluationResponse(eval)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// RecordDecision はラウンドの判定を記録する。
// POST /api/evaluations/:id/decision
func (h *EvaluationHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	eval, err := h.service.RecordDecision(r.Context(), id, req.Version, model.Decision(req.Decision), toSlots(req.NextSlots))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toEvaluationResponse(eval)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ResendInvitations は面接官への招待を選択的に再送する。
// 前回送付時から割り当て内容が変わっていない枠はスキップされる。
// POST /api/evaluations/:id/invitations/resend
func (h *EvaluationHandler) ResendInvitations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resendInvitationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	// 評価プロセスの存在確認
	eval, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if eval == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewEvaluationNotFoundError(id))
		return
	}

	result, err := h.invitations.Resend(r.Context(), id, req.SlotIDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resendInvitationsResponse{
		Sent:    result.Sent,
		Skipped: result.Skipped,
	})
}

// DeleteEvaluation は評価プロセスを削除する。
// DELETE /api/evaluations/:id
func (h *EvaluationHandler) DeleteEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- 変換ヘルパー ---

// toSlots はリクエストの面接枠をドメイン型に変換する。並び順をOrderIndexに反映する。
func toSlots(reqs []slotRequest) []model.InterviewSlot {
	slots := make([]model.InterviewSlot, len(reqs))
	for i, s := range reqs {
		slots[i] = model.InterviewSlot{
			SlotID:          s.SlotID,
			InterviewerID:   s.InterviewerID,
			InterviewerName: s.InterviewerName,
			CaseFolderRef:   s.CaseFolderRef,
			FitQuestionRef:  s.FitQuestionRef,
			OrderIndex:      i,
		}
	}
	return slots
}

// toEvaluationResponse はドメインのEvaluationをhandlerのレスポンス型に変換する。
func toEvaluationResponse(e *model.Evaluation) evaluationResponse {
	history := make([]roundSnapshotResponse, len(e.RoundHistory))
	for i, snap := range e.RoundHistory {
		history[i] = roundSnapshotResponse{
			RoundNumber: snap.RoundNumber,
			Interviews:  toSlotResponses(snap.Interviews),
			Forms:       toFormResponses(snap.Forms),
			Decision:    string(snap.Decision),
			StartedAt:   snap.StartedAt,
			CompletedAt: snap.CompletedAt,
		}
	}

	return evaluationResponse{
		ID:                 e.ID,
		CandidateID:        e.CandidateID,
		CurrentRoundNumber: e.CurrentRoundNumber,
		InterviewSlots:     toSlotResponses(e.InterviewSlots),
		Forms:              toFormResponses(e.Forms),
		Decision:           string(e.Decision),
		ProcessStatus:      string(e.ProcessStatus),
		RoundHistory:       history,
		RoundStartedAt:     e.RoundStartedAt,
		Version:            e.Version,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func toSlotResponses(slots []model.InterviewSlot) []slotResponse {
	results := make([]slotResponse, len(slots))
	for i, s := range slots {
		results[i] = slotResponse{
			SlotID:          s.SlotID,
			InterviewerID:   s.InterviewerID,
			InterviewerName: s.InterviewerName,
			CaseFolderRef:   s.CaseFolderRef,
			FitQuestionRef:  s.FitQuestionRef,
			OrderIndex:      s.OrderIndex,
		}
	}
	return results
}

func toFormResponses(forms []model.InterviewForm) []formResponse {
	results := make([]formResponse, len(forms))
	for i, f := range forms {
		var submittedAt *time.Time
		if !f.SubmittedAt.IsZero() {
			t := f.SubmittedAt
			submittedAt = &t
		}
		results[i] = formResponse{
			SlotID:              f.SlotID,
			FitScore:            f.FitScore,
			CaseScore:           f.CaseScore,
			CriterionScores:     f.CriterionScores,
			Notes:               f.Notes,
			OfferRecommendation: f.OfferRecommendation,
			Submitted:           f.Submitted,
			SubmittedAt:         submittedAt,
		}
	}
	return results
}

// --- エラーレスポンス ---

// apiErrorResponse はAPIエラーの統一レスポンスフォーマット。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse はAPIErrorを統一フォーマットでレスポンスに書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeInvalidBodyResponse はリクエストボディの解析失敗レスポンスを書き込む。
func writeInvalidBodyResponse(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeVersionConflict, model.ErrCodeEvaluationClosed:
		return http.StatusConflict
	case model.ErrCodeLockTimeout:
		return http.StatusServiceUnavailable
	case model.ErrCodeInvalidInput, model.ErrCodeInvalidDecision:
		return http.StatusBadRequest
	case model.ErrCodeCandidateNotFound, model.ErrCodeEvaluationNotFound,
		model.ErrCodeCriterionSetNotFound, model.ErrCodeSlotNotFound,
		model.ErrCodeInvitationNotFound:
		return http.StatusNotFound
	case model.ErrCodeFormLocked:
		return http.StatusLocked
	case model.ErrCodeIncompleteRound:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
