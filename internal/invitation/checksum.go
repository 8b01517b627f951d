// Package invitation は面接招待のチェックサム追跡と送付機能を提供する。
//
// 各面接枠の割り当て内容（面接官＋ケース＋フィット質問）から決定的な
// フィンガープリントを計算し、前回送付時から内容が変わった枠だけを
// 選択的に再送できるようにする。
// チェックサムはSHA-256であり、衝突は実用上発生しないものと仮定する。
package invitation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hitoshi/hireman/internal/model"
)

// ComputeChecksum は面接枠の割り当て内容のフィンガープリントを計算する。
// 4つのフィールドを長さ区切りで連結したバイト列のSHA-256ダイジェストを
// 16進文字列で返す。フィールドのいずれかが変われば必ずダイジェストも変わる。
func ComputeChecksum(interviewerID, interviewerName, caseFolderRef, fitQuestionRef string) string {
	h := sha256.New()
	for _, field := range []string{interviewerID, interviewerName, caseFolderRef, fitQuestionRef} {
		// 長さ区切りにより連結の曖昧さ（"ab"+"c" と "a"+"bc"）を排除する
		fmt.Fprintf(h, "%d:%s;", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NeedsResend は招待の再送が必要かを返す。
// 割り当て内容のチェックサムが前回送付時のチェックサムと一致していれば、
// その面接枠に未送付の通知は存在しない。
func NeedsResend(a *model.InvitationAssignment) bool {
	return a.DetailsChecksum != a.LastSentChecksum
}
