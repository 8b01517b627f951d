// Package model はドメインモデルを定義する。
package model

import "time"

// InvitationAssignment は面接枠ごとの招待送付状態を表す。
// DetailsChecksumは割り当て内容（面接官＋ケース＋フィット質問）の
// フィンガープリントであり、LastSentChecksumと一致していれば
// その面接枠に未送付の通知は存在しない。
type InvitationAssignment struct {
	SlotID                string
	EvaluationID          string
	InterviewerID         string
	InterviewerName       string
	CaseFolderRef         string
	FitQuestionRef        string
	DetailsChecksum       string
	LastSentChecksum      string
	LastDeliveryAttemptAt time.Time // ゼロ値は未試行
	InvitationSentAt      time.Time // ゼロ値は未送付
}

// Session はユーザーのログインセッションを表す。
// セッションの発行は外部の認証基盤が行い、本サービスは検証のみ行う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
