// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/hireman/internal/model"
)

// CandidatePatch は候補者更新の型付き変更コマンド。
// nilフィールドは変更せず、既存の値を維持する部分更新を行う。
type CandidatePatch struct {
	Name   *string
	Email  *string
	Source *string
	Stage  *model.CandidateStage
	Notes  *string
}

// CandidateRepository は候補者データの永続化インターフェース。
type CandidateRepository interface {
	// FindByID は指定IDの候補者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Candidate, error)

	// List は候補者一覧を作成日時降順で返す。
	List(ctx context.Context) ([]*model.Candidate, error)

	// Create は候補者をversion=1で作成する。
	Create(ctx context.Context, candidate *model.Candidate) error

	// Update は楽観ロック付きで候補者を部分更新する。
	// バージョン不一致の場合はVERSION_CONFLICTを返す。
	Update(ctx context.Context, id string, expectedVersion int, patch CandidatePatch) (*model.Candidate, error)

	// Delete は候補者を削除する。関連する評価プロセスと
	// 招待情報はCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// CriterionSetRepository は評価基準セットの永続化インターフェース。
type CriterionSetRepository interface {
	// Get は評価基準セットを取得する。未作成の場合はnilを返す。
	Get(ctx context.Context) (*model.CriterionSet, error)

	// Replace は評価基準セット全体を全置換セマンティクスで書き込む。
	// 提出された子セットをUPSERTし、含まれない既存行を削除し、
	// 親バージョンを同一トランザクションでインクリメントする。
	// expectedVersion=0は初回書き込みを意味する。
	Replace(ctx context.Context, expectedVersion int, criteria []model.Criterion) (*model.CriterionSet, error)
}

// EvaluationRepository は評価プロセス集約の永続化インターフェース。
type EvaluationRepository interface {
	// FindByID は指定IDの評価プロセスを子（面接枠・フォーム・ラウンド履歴）
	// 込みで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Evaluation, error)

	// ListByCandidate は候補者の評価プロセス一覧を返す。
	ListByCandidate(ctx context.Context, candidateID string) ([]*model.Evaluation, error)

	// Create は評価プロセスをversion=1で作成する。
	Create(ctx context.Context, eval *model.Evaluation) error

	// Mutate は楽観ロック付きで評価プロセスを更新する。
	// 行ロック下で集約全体を読み込み、fnでメモリ上の集約を変更した後、
	// 面接枠・フォームの全置換、ラウンド履歴の追記、親バージョンの
	// インクリメントを同一トランザクションで行う。
	// fnがエラーを返した場合は全体をロールバックする。
	Mutate(ctx context.Context, id string, expectedVersion int, fn func(eval *model.Evaluation) error) (*model.Evaluation, error)

	// Delete は評価プロセスを削除する。子行と招待情報はCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// InvitationRepository は面接招待の送付状態の永続化インターフェース。
// 招待行の作成・チェックサム更新は評価プロセスの書き込みと同一
// トランザクションで行われるため、ここには読み取りと送付状態の
// 更新のみを定義する。
type InvitationRepository interface {
	// FindBySlot は指定面接枠の招待情報を取得する。見つからない場合はnilを返す。
	FindBySlot(ctx context.Context, slotID string) (*model.InvitationAssignment, error)

	// ListByEvaluation は評価プロセスの招待情報一覧を返す。
	ListByEvaluation(ctx context.Context, evaluationID string) ([]*model.InvitationAssignment, error)

	// ListPendingResend は再送が必要な招待情報をクレームして返す。
	// details_checksum != last_sent_checksum の行をクレームし、
	// last_delivery_attempt_atの押印で一定期間は他ワーカーの
	// 再クレーム対象から外す。
	ListPendingResend(ctx context.Context, limit int) ([]*model.InvitationAssignment, error)

	// MarkDeliveryAttempt は送付試行日時を記録する。
	// 送付失敗時はlast_sent_checksumを変更しないため、次回スイープで再試行される。
	MarkDeliveryAttempt(ctx context.Context, slotID string, at time.Time) error

	// MarkSent は送付成功を記録する。
	// last_sent_checksumを送付時点のdetails_checksumに揃える。
	MarkSent(ctx context.Context, slotID string, checksum string, at time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
// セッションの発行は外部の認証基盤が行い、本サービスは検証と削除のみ行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
