// Package model はドメインモデルを定義する。
package model

import "time"

// Candidate は採用パイプライン上の候補者を表す。
// バージョン付き集約として楽観ロック経由でのみ更新される。
type Candidate struct {
	ID        string
	Name      string
	Email     string
	Source    string // 応募経路（リファラル、エージェント等）
	Stage     CandidateStage
	Notes     string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CandidateStage は候補者のパイプライン上の段階を表す。
type CandidateStage string

const (
	// StageApplied は応募受付済みの段階。
	StageApplied CandidateStage = "applied"
	// StageScreening は書類選考中の段階。
	StageScreening CandidateStage = "screening"
	// StageInterviewing は面接評価中の段階。
	StageInterviewing CandidateStage = "interviewing"
	// StageClosed は選考終了の段階。
	StageClosed CandidateStage = "closed"
)

// IsValid はCandidateStageが有効な値かを返す。
func (s CandidateStage) IsValid() bool {
	switch s {
	case StageApplied, StageScreening, StageInterviewing, StageClosed:
		return true
	default:
		return false
	}
}
