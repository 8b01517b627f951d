// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, conflict, evaluation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeVersionConflict      = "VERSION_CONFLICT"
	ErrCodeLockTimeout          = "LOCK_TIMEOUT"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeCandidateNotFound    = "CANDIDATE_NOT_FOUND"
	ErrCodeEvaluationNotFound   = "EVALUATION_NOT_FOUND"
	ErrCodeCriterionSetNotFound = "CRITERION_SET_NOT_FOUND"
	ErrCodeSlotNotFound         = "SLOT_NOT_FOUND"
	ErrCodeFormLocked           = "FORM_LOCKED"
	ErrCodeEvaluationClosed     = "EVALUATION_CLOSED"
	ErrCodeIncompleteRound      = "INCOMPLETE_ROUND"
	ErrCodeInvalidDecision      = "INVALID_DECISION"
	ErrCodeInvitationNotFound   = "INVITATION_NOT_FOUND"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインし直してから再度お試しください。",
	}
}

// NewVersionConflictError は楽観ロック競合エラーを生成する。
// 複数編集者の同時更新で通常発生するエラーであり、障害ではない。
func NewVersionConflictError(expected, current int) *APIError {
	return &APIError{
		Code:     ErrCodeVersionConflict,
		Message:  fmt.Sprintf("データが他の編集者によって更新されています（期待バージョン: %d、現在バージョン: %d）。", expected, current),
		Category: "conflict",
		Action:   "最新の状態を再読み込みしてから、変更を再適用してください。",
	}
}

// NewLockTimeoutError は行ロック待ちタイムアウトエラーを生成する。
// 再試行可能なエラーとして扱う。
func NewLockTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeLockTimeout,
		Message:  "他の更新処理が混み合っているため、時間内にロックを取得できませんでした。",
		Category: "conflict",
		Action:   "少し待ってから再度お試しください。",
	}
}

// NewInvalidInputError は入力値不正エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewCandidateNotFoundError は候補者未検出エラーを生成する。
func NewCandidateNotFoundError(candidateID string) *APIError {
	return &APIError{
		Code:     ErrCodeCandidateNotFound,
		Message:  fmt.Sprintf("指定された候補者が見つかりません: %s", candidateID),
		Category: "validation",
		Action:   "候補者IDを確認してください。",
	}
}

// NewEvaluationNotFoundError は評価プロセス未検出エラーを生成する。
func NewEvaluationNotFoundError(evaluationID string) *APIError {
	return &APIError{
		Code:     ErrCodeEvaluationNotFound,
		Message:  fmt.Sprintf("指定された評価プロセスが見つかりません: %s", evaluationID),
		Category: "evaluation",
		Action:   "評価プロセスIDを確認してください。",
	}
}

// NewCriterionSetNotFoundError は評価基準セット未検出エラーを生成する。
func NewCriterionSetNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeCriterionSetNotFound,
		Message:  "評価基準セットがまだ作成されていません。",
		Category: "validation",
		Action:   "先に評価基準セットを登録してください。",
	}
}

// NewSlotNotFoundError は面接枠未検出エラーを生成する。
func NewSlotNotFoundError(slotID string) *APIError {
	return &APIError{
		Code:     ErrCodeSlotNotFound,
		Message:  fmt.Sprintf("指定された面接枠が見つかりません: %s", slotID),
		Category: "evaluation",
		Action:   "面接枠IDを確認してください。現在のラウンドの面接枠のみ操作できます。",
	}
}

// NewFormLockedError は提出済みフォームへの変更エラーを生成する。
// 提出済みフォームは面接官が承認した記録としてイミュータブルに扱う。
func NewFormLockedError(slotID string) *APIError {
	return &APIError{
		Code:     ErrCodeFormLocked,
		Message:  fmt.Sprintf("この面接フォームは提出済みのため変更できません: %s", slotID),
		Category: "evaluation",
		Action:   "提出済みフォームの修正が必要な場合は管理者に連絡してください。",
	}
}

// NewEvaluationClosedError は終了済み評価プロセスへの変更エラーを生成する。
func NewEvaluationClosedError(evaluationID string) *APIError {
	return &APIError{
		Code:     ErrCodeEvaluationClosed,
		Message:  fmt.Sprintf("この評価プロセスは終了しているため変更できません: %s", evaluationID),
		Category: "evaluation",
		Action:   "終了済みの評価プロセスは参照のみ可能です。",
	}
}

// NewIncompleteRoundError はフォーム未作成のままの判定記録エラーを生成する。
func NewIncompleteRoundError(missingSlots int) *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteRound,
		Message:  fmt.Sprintf("フォームが保存されていない面接枠が%d件あります。", missingSlots),
		Category: "evaluation",
		Action:   "すべての面接枠のフォームを保存（下書き可）してから判定を記録してください。",
	}
}

// NewInvalidDecisionError は無効な判定値エラーを生成する。
func NewInvalidDecisionError(decision string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDecision,
		Message:  fmt.Sprintf("無効な判定値です: %s", decision),
		Category: "validation",
		Action:   "判定には progress、offer、reject、accepted-offer のいずれかを指定してください。",
	}
}

// NewInvitationNotFoundError は招待情報未検出エラーを生成する。
func NewInvitationNotFoundError(slotID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvitationNotFound,
		Message:  fmt.Sprintf("指定された面接枠の招待情報が見つかりません: %s", slotID),
		Category: "evaluation",
		Action:   "面接枠IDを確認してください。",
	}
}
