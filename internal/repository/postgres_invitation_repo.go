package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/hireman/internal/model"
)

// PostgresInvitationRepo はPostgreSQLを使用した面接招待リポジトリ。
// 招待行の作成とチェックサムの更新は評価プロセスの書き込みと同一
// トランザクションで行われる（persistEvaluationChildren参照）。
type PostgresInvitationRepo struct {
	db *sql.DB
}

// NewPostgresInvitationRepo はPostgresInvitationRepoを生成する。
func NewPostgresInvitationRepo(db *sql.DB) *PostgresInvitationRepo {
	return &PostgresInvitationRepo{db: db}
}

// invitationColumns は招待情報のSELECT列リスト。
const invitationColumns = `slot_id, evaluation_id, interviewer_id, interviewer_name,
	case_folder_ref, fit_question_ref, details_checksum, last_sent_checksum,
	last_delivery_attempt_at, invitation_sent_at`

// FindBySlot は指定面接枠の招待情報を取得する。見つからない場合はnilを返す。
func (r *PostgresInvitationRepo) FindBySlot(ctx context.Context, slotID string) (*model.InvitationAssignment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitation_assignments WHERE slot_id = $1`,
		slotID,
	)
	a, err := scanInvitation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("招待情報の取得に失敗しました: %w", err)
	}
	return a, nil
}

// ListByEvaluation は評価プロセスの招待情報一覧を返す。
func (r *PostgresInvitationRepo) ListByEvaluation(ctx context.Context, evaluationID string) ([]*model.InvitationAssignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitation_assignments WHERE evaluation_id = $1 ORDER BY slot_id ASC`,
		evaluationID,
	)
	if err != nil {
		return nil, fmt.Errorf("招待情報一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var assignments []*model.InvitationAssignment
	for rows.Next() {
		a, err := scanInvitation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("招待情報の読み取りに失敗しました: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("招待情報一覧の走査に失敗しました: %w", err)
	}
	return assignments, nil
}

// resendClaimCooldown はクレーム済みの行を再クレーム対象に戻すまでの最短間隔。
const resendClaimCooldown = time.Minute

// ListPendingResend は再送が必要な招待情報をクレームして返す。
//
// 自動コミットの単独SELECT ... FOR UPDATEは文の終了と同時にロックが
// 解放されるため排他にならない。クレームは単一のUPDATE文で行い、
// last_delivery_attempt_atを押印することでresendClaimCooldownの間は
// 他ワーカーの再クレーム対象から外す。同時実行中のワーカーが選択中の
// 行はSKIP LOCKEDで飛ばす。
func (r *PostgresInvitationRepo) ListPendingResend(ctx context.Context, limit int) ([]*model.InvitationAssignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE invitation_assignments
		 SET last_delivery_attempt_at = now()
		 WHERE slot_id IN (
		     SELECT slot_id
		     FROM invitation_assignments
		     WHERE details_checksum <> last_sent_checksum
		       AND (last_delivery_attempt_at IS NULL
		            OR last_delivery_attempt_at <= now() - make_interval(secs => $2))
		     ORDER BY last_delivery_attempt_at ASC NULLS FIRST
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+invitationColumns,
		limit, resendClaimCooldown.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("再送対象の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var assignments []*model.InvitationAssignment
	for rows.Next() {
		a, err := scanInvitation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("再送対象の読み取りに失敗しました: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("再送対象の走査に失敗しました: %w", err)
	}
	return assignments, nil
}

// MarkDeliveryAttempt は送付試行日時を記録する。
// last_sent_checksumは変更しないため、失敗した送付は次回スイープで再試行される。
func (r *PostgresInvitationRepo) MarkDeliveryAttempt(ctx context.Context, slotID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE invitation_assignments SET last_delivery_attempt_at = $2 WHERE slot_id = $1`,
		slotID, at,
	)
	if err != nil {
		return fmt.Errorf("送付試行日時の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkSent は送付成功を記録し、last_sent_checksumを送付内容のチェックサムに揃える。
func (r *PostgresInvitationRepo) MarkSent(ctx context.Context, slotID string, checksum string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE invitation_assignments
		 SET last_sent_checksum = $2, invitation_sent_at = $3, last_delivery_attempt_at = $3
		 WHERE slot_id = $1`,
		slotID, checksum, at,
	)
	if err != nil {
		return fmt.Errorf("送付成功の記録に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewInvitationNotFoundError(slotID)
	}
	return nil
}

// scanInvitation はスキャン関数から1件の招待情報を読み取る。
func scanInvitation(scan func(dest ...interface{}) error) (*model.InvitationAssignment, error) {
	a := &model.InvitationAssignment{}
	var lastAttempt, sentAt sql.NullTime
	err := scan(
		&a.SlotID, &a.EvaluationID, &a.InterviewerID, &a.InterviewerName,
		&a.CaseFolderRef, &a.FitQuestionRef, &a.DetailsChecksum, &a.LastSentChecksum,
		&lastAttempt, &sentAt,
	)
	if err != nil {
		return nil, err
	}
	if lastAttempt.Valid {
		a.LastDeliveryAttemptAt = lastAttempt.Time
	}
	if sentAt.Valid {
		a.InvitationSentAt = sentAt.Time
	}
	return a, nil
}

// compile-time interface check
var _ InvitationRepository = (*PostgresInvitationRepo)(nil)
