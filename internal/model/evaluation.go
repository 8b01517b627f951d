// Package model はドメインモデルを定義する。
package model

import "time"

// Evaluation は1人の候補者に対する評価プロセス全体を表す集約。
// 現在ラウンドの面接枠・フォームは可変、過去ラウンドはRoundHistoryに
// 追記専用のスナップショットとして保持される。
type Evaluation struct {
	ID                 string
	CandidateID        string
	CurrentRoundNumber int
	InterviewSlots     []InterviewSlot // 現在ラウンドの面接枠
	Forms              []InterviewForm // 現在ラウンドのフォーム
	Decision           Decision        // 現在ラウンドの判定（未判定は空）
	ProcessStatus      ProcessStatus
	RoundHistory       []RoundSnapshot
	RoundStartedAt     time.Time // 現在ラウンドの開始日時
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SlotByID は現在ラウンドの面接枠をIDで検索する。見つからない場合はnilを返す。
func (e *Evaluation) SlotByID(slotID string) *InterviewSlot {
	for i := range e.InterviewSlots {
		if e.InterviewSlots[i].SlotID == slotID {
			return &e.InterviewSlots[i]
		}
	}
	return nil
}

// FormBySlot は現在ラウンドのフォームを面接枠IDで検索する。見つからない場合はnilを返す。
func (e *Evaluation) FormBySlot(slotID string) *InterviewForm {
	for i := range e.Forms {
		if e.Forms[i].SlotID == slotID {
			return &e.Forms[i]
		}
	}
	return nil
}

// InterviewSlot は1つの面接枠（面接官＋ケース＋フィット質問の割り当て）を表す。
// SlotIDはラウンドをまたいで安定しており、過去ラウンドの表示時も参照で再利用される。
type InterviewSlot struct {
	SlotID          string
	InterviewerID   string
	InterviewerName string
	CaseFolderRef   string // ケース資料フォルダへの参照URL
	FitQuestionRef  string // フィット面接質問への参照URL
	OrderIndex      int
}

// InterviewForm は1人の面接官の評価フォーム提出内容を表す。
// Submitted=trueになったフォームはイミュータブルとして扱う。
type InterviewForm struct {
	SlotID              string
	FitScore            float64            // フィット評価（面接官の直接入力、導出しない）
	CaseScore           float64            // ケース評価（面接官の直接入力、導出しない）
	CriterionScores     map[string]float64 // 評価基準IDごとのスコア（1〜5、0.5刻み可）
	Notes               string             // 面接メモ（保存前にサニタイズ済みHTML）
	OfferRecommendation bool
	Submitted           bool
	SubmittedAt         time.Time
}

// RoundSnapshot は判定によって確定したラウンドの不変レコードを表す。
// RoundHistoryへの追記は判定記録の瞬間に1回だけ行われる。
type RoundSnapshot struct {
	RoundNumber int
	Interviews  []InterviewSlot
	Forms       []InterviewForm
	Decision    Decision
	StartedAt   time.Time
	CompletedAt time.Time
}

// Decision はラウンドを確定する判定を表す。
type Decision string

const (
	// DecisionProgress は次ラウンドへの進行判定。
	DecisionProgress Decision = "progress"
	// DecisionOffer はオファー判定（終了判定）。
	DecisionOffer Decision = "offer"
	// DecisionReject は不採用判定（終了判定）。
	DecisionReject Decision = "reject"
	// DecisionAcceptedOffer はオファー承諾判定（終了判定）。
	DecisionAcceptedOffer Decision = "accepted-offer"
)

// IsValid はDecisionが有効な値かを返す。
func (d Decision) IsValid() bool {
	switch d {
	case DecisionProgress, DecisionOffer, DecisionReject, DecisionAcceptedOffer:
		return true
	default:
		return false
	}
}

// IsTerminal は評価プロセスを終了させる判定かを返す。
func (d Decision) IsTerminal() bool {
	return d == DecisionOffer || d == DecisionReject || d == DecisionAcceptedOffer
}

// ProcessStatus は評価プロセス全体の状態を表す。
type ProcessStatus string

const (
	// ProcessStatusDraft は面接枠の編成中の状態。
	ProcessStatusDraft ProcessStatus = "draft"
	// ProcessStatusInProgress はラウンド進行中の状態。
	ProcessStatusInProgress ProcessStatus = "in-progress"
	// ProcessStatusCompleted は終了判定によって確定した状態。
	ProcessStatusCompleted ProcessStatus = "completed"
)

// IsValid はProcessStatusが有効な値かを返す。
func (s ProcessStatus) IsValid() bool {
	switch s {
	case ProcessStatusDraft, ProcessStatusInProgress, ProcessStatusCompleted:
		return true
	default:
		return false
	}
}
