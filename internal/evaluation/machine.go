// Package evaluation は評価プロセスのラウンド進行ロジックを提供する。
//
// 評価プロセスは draft → in-progress → completed と遷移し、各ラウンドは
// 判定（progress / offer / reject / accepted-offer）によって確定する。
// 確定したラウンドはRoundHistoryに追記専用のスナップショットとして残り、
// 変更可能なのは常に現在ラウンドのみである。
package evaluation

import (
	"time"

	"github.com/hitoshi/hireman/internal/model"
)

// SubmitForm は現在ラウンドのフォームに面接官の入力を適用する。
//
// 提出済み（Submitted=true）のフォームへの書き込みはFORM_LOCKEDで拒否し、
// 面接官が承認した記録をイミュータブルに保つ。終了済みの評価プロセスへの
// 書き込みはEVALUATION_CLOSEDで拒否する。
// スコアは入力値をそのまま保存する（集計・整合性検証は表示層の責務）。
func SubmitForm(eval *model.Evaluation, slotID string, form model.InterviewForm, now time.Time) error {
	if eval.ProcessStatus == model.ProcessStatusCompleted {
		return model.NewEvaluationClosedError(eval.ID)
	}

	if eval.SlotByID(slotID) == nil {
		return model.NewSlotNotFoundError(slotID)
	}

	existing := eval.FormBySlot(slotID)
	if existing != nil && existing.Submitted {
		return model.NewFormLockedError(slotID)
	}

	form.SlotID = slotID
	if form.Submitted {
		form.SubmittedAt = now
	} else {
		form.SubmittedAt = time.Time{}
	}

	if existing != nil {
		*existing = form
	} else {
		eval.Forms = append(eval.Forms, form)
	}

	if eval.ProcessStatus == model.ProcessStatusDraft {
		eval.ProcessStatus = model.ProcessStatusInProgress
	}

	return nil
}

// RecordDecision は現在ラウンドを判定で確定する。
//
// 現在ラウンドの全面接枠にフォームが保存済み（下書き可）であることを
// 要求し、不足があればINCOMPLETE_ROUNDを返す。確定したラウンドは
// RoundHistoryに1回だけ追記され、以後変更されない。
// progressの場合は呼び出し元が用意した新しい面接枠で次ラウンドを開き、
// 終了判定の場合はProcessStatusをcompletedにして以後の変更を拒否する。
func RecordDecision(eval *model.Evaluation, decision model.Decision, nextSlots []model.InterviewSlot, now time.Time) error {
	if !decision.IsValid() {
		return model.NewInvalidDecisionError(string(decision))
	}

	if eval.ProcessStatus == model.ProcessStatusCompleted {
		return model.NewEvaluationClosedError(eval.ID)
	}

	missing := 0
	for _, slot := range eval.InterviewSlots {
		if eval.FormBySlot(slot.SlotID) == nil {
			missing++
		}
	}
	if missing > 0 {
		return model.NewIncompleteRoundError(missing)
	}

	// ラウンド確定の瞬間に1回だけスナップショットを追記する
	eval.RoundHistory = append(eval.RoundHistory, model.RoundSnapshot{
		RoundNumber: eval.CurrentRoundNumber,
		Interviews:  eval.InterviewSlots,
		Forms:       eval.Forms,
		Decision:    decision,
		StartedAt:   eval.RoundStartedAt,
		CompletedAt: now,
	})

	if decision == model.DecisionProgress {
		eval.CurrentRoundNumber++
		eval.InterviewSlots = nextSlots
		eval.Forms = nil
		eval.Decision = ""
		eval.RoundStartedAt = now
		eval.ProcessStatus = model.ProcessStatusInProgress
		return nil
	}

	eval.Decision = decision
	eval.ProcessStatus = model.ProcessStatusCompleted
	return nil
}

// ReplaceSlots は現在ラウンドの面接枠を提出された内容で全置換する。
// 終了済みの評価プロセスへの変更はEVALUATION_CLOSEDで拒否する。
// 提出セットに含まれない既存枠のフォームは枠と一緒に破棄される。
func ReplaceSlots(eval *model.Evaluation, slots []model.InterviewSlot) error {
	if eval.ProcessStatus == model.ProcessStatusCompleted {
		return model.NewEvaluationClosedError(eval.ID)
	}

	keep := make(map[string]bool, len(slots))
	for _, slot := range slots {
		if slot.SlotID != "" {
			keep[slot.SlotID] = true
		}
	}

	// 削除された面接枠のフォームを除去する（枠のないフォームは残さない）
	var forms []model.InterviewForm
	for _, form := range eval.Forms {
		if keep[form.SlotID] {
			forms = append(forms, form)
		}
	}

	eval.InterviewSlots = slots
	eval.Forms = forms
	return nil
}
