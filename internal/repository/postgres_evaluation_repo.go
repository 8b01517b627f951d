package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/hireman/internal/invitation"
	"github.com/hitoshi/hireman/internal/model"
)

// evaluationTable は評価プロセスの親テーブル名。
const evaluationTable = "evaluations"

// querier は*sql.DBと*sql.Txの両方で集約を読み込むためのインターフェース。
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// PostgresEvaluationRepo はPostgreSQLを使用した評価プロセスリポジトリ。
// 親行・面接枠・フォーム・ラウンド履歴・招待情報を1つの集約として
// 同一トランザクションで読み書きする。
type PostgresEvaluationRepo struct {
	db    *sql.DB
	store *VersionedStore
}

// NewPostgresEvaluationRepo はPostgresEvaluationRepoを生成する。
func NewPostgresEvaluationRepo(db *sql.DB, store *VersionedStore) *PostgresEvaluationRepo {
	return &PostgresEvaluationRepo{db: db, store: store}
}

// FindByID は指定IDの評価プロセスを子込みで取得する。見つからない場合はnilを返す。
func (r *PostgresEvaluationRepo) FindByID(ctx context.Context, id string) (*model.Evaluation, error) {
	return loadEvaluation(ctx, r.db, id)
}

// ListByCandidate は候補者の評価プロセス一覧を返す。
func (r *PostgresEvaluationRepo) ListByCandidate(ctx context.Context, candidateID string) ([]*model.Evaluation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM evaluations WHERE candidate_id = $1 ORDER BY created_at ASC`,
		candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("評価プロセス一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("評価プロセスIDの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("評価プロセス一覧の走査に失敗しました: %w", err)
	}

	evals := make([]*model.Evaluation, 0, len(ids))
	for _, id := range ids {
		eval, err := loadEvaluation(ctx, r.db, id)
		if err != nil {
			return nil, err
		}
		if eval != nil {
			evals = append(evals, eval)
		}
	}
	return evals, nil
}

// Create は評価プロセスをversion=1で作成する。
// eval.IDが未採番の場合はUUIDを割り当てる。
func (r *PostgresEvaluationRepo) Create(ctx context.Context, eval *model.Evaluation) error {
	if eval.ID == "" {
		eval.ID = uuid.NewString()
	}

	ref := AggregateRef{Table: evaluationTable, ID: eval.ID}
	newVersion, updatedAt, err := r.store.Write(ctx, ref, 0, func(ctx context.Context, tx *sql.Tx, current AggregateMeta) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO evaluations
			    (id, candidate_id, current_round_number, decision, process_status,
			     round_started_at, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, 1, now(), now())`,
			eval.ID, eval.CandidateID, eval.CurrentRoundNumber,
			nullString(string(eval.Decision)), eval.ProcessStatus, eval.RoundStartedAt,
		); err != nil {
			return fmt.Errorf("評価プロセスの作成に失敗しました: %w", err)
		}
		return persistEvaluationChildren(ctx, tx, eval)
	})
	if err != nil {
		return err
	}

	eval.Version = newVersion
	eval.UpdatedAt = updatedAt
	return nil
}

// Mutate は楽観ロック付きで評価プロセスを更新する。
// 行ロック下で集約全体を読み込み、fnでメモリ上の集約を変更した後、
// 子の全置換・ラウンド履歴の追記・バージョンのインクリメントを
// 同一トランザクションで行う。
func (r *PostgresEvaluationRepo) Mutate(ctx context.Context, id string, expectedVersion int, fn func(eval *model.Evaluation) error) (*model.Evaluation, error) {
	if expectedVersion < 1 {
		return nil, model.NewInvalidInputError(fmt.Sprintf("既存の評価プロセスの更新には1以上の期待バージョンが必要です: %d", expectedVersion))
	}

	var mutated *model.Evaluation
	ref := AggregateRef{Table: evaluationTable, ID: id}

	newVersion, updatedAt, err := r.store.Write(ctx, ref, expectedVersion, func(ctx context.Context, tx *sql.Tx, current AggregateMeta) error {
		eval, err := loadEvaluation(ctx, tx, id)
		if err != nil {
			return err
		}
		if eval == nil {
			return model.NewEvaluationNotFoundError(id)
		}

		if err := fn(eval); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE evaluations SET
			    current_round_number = $2, decision = $3,
			    process_status = $4, round_started_at = $5
			 WHERE id = $1`,
			eval.ID, eval.CurrentRoundNumber, nullString(string(eval.Decision)),
			eval.ProcessStatus, eval.RoundStartedAt,
		); err != nil {
			return fmt.Errorf("評価プロセスの更新に失敗しました: %w", err)
		}

		if err := persistEvaluationChildren(ctx, tx, eval); err != nil {
			return err
		}

		mutated = eval
		return nil
	})
	if err != nil {
		return nil, err
	}

	mutated.Version = newVersion
	mutated.UpdatedAt = updatedAt
	return mutated, nil
}

// Delete は評価プロセスを削除する。
// 面接枠・フォーム・ラウンド履歴・招待情報はCASCADE削除される。
func (r *PostgresEvaluationRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM evaluations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("評価プロセスの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewEvaluationNotFoundError(id)
	}
	return nil
}

// persistEvaluationChildren は面接枠・フォームの全置換、ラウンド履歴の追記、
// 招待情報のチェックサム更新を親のトランザクション内で実行する。
func persistEvaluationChildren(ctx context.Context, tx *sql.Tx, eval *model.Evaluation) error {
	slots, err := ReconcileChildSet(ctx, tx, eval.ID, eval.InterviewSlots, slotTable{})
	if err != nil {
		return err
	}
	eval.InterviewSlots = slots

	if _, err := ReconcileChildSet(ctx, tx, eval.ID, eval.Forms, formTable{}); err != nil {
		return err
	}

	// ラウンド履歴は追記専用: 既存行は上書きしない
	for _, snapshot := range eval.RoundHistory {
		payload, err := json.Marshal(toSnapshotPayload(snapshot))
		if err != nil {
			return fmt.Errorf("ラウンドスナップショットのエンコードに失敗しました: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO round_snapshots (evaluation_id, round_number, payload)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (evaluation_id, round_number) DO NOTHING`,
			eval.ID, snapshot.RoundNumber, payload,
		); err != nil {
			return fmt.Errorf("ラウンドスナップショットの追記に失敗しました: %w", err)
		}
	}

	// 現在ラウンドの面接枠ごとに招待情報の割り当て内容を更新する。
	// 送付状態（last_sent_checksum等）は保持し、スイープが差分を検出する。
	for _, slot := range eval.InterviewSlots {
		checksum := invitation.ComputeChecksum(slot.InterviewerID, slot.InterviewerName, slot.CaseFolderRef, slot.FitQuestionRef)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO invitation_assignments
			    (slot_id, evaluation_id, interviewer_id, interviewer_name,
			     case_folder_ref, fit_question_ref, details_checksum, last_sent_checksum)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, '')
			 ON CONFLICT (slot_id) DO UPDATE SET
			    interviewer_id = EXCLUDED.interviewer_id,
			    interviewer_name = EXCLUDED.interviewer_name,
			    case_folder_ref = EXCLUDED.case_folder_ref,
			    fit_question_ref = EXCLUDED.fit_question_ref,
			    details_checksum = EXCLUDED.details_checksum`,
			slot.SlotID, eval.ID, slot.InterviewerID, slot.InterviewerName,
			slot.CaseFolderRef, slot.FitQuestionRef, checksum,
		); err != nil {
			return fmt.Errorf("招待情報の更新に失敗しました: %w", err)
		}
	}

	return nil
}

// loadEvaluation は評価プロセス集約全体を読み込む。見つからない場合はnilを返す。
func loadEvaluation(ctx context.Context, q querier, id string) (*model.Evaluation, error) {
	eval := &model.Evaluation{}
	var decision sql.NullString

	err := q.QueryRowContext(ctx,
		`SELECT id, candidate_id, current_round_number, decision, process_status,
		        round_started_at, version, created_at, updated_at
		 FROM evaluations WHERE id = $1`,
		id,
	).Scan(
		&eval.ID, &eval.CandidateID, &eval.CurrentRoundNumber, &decision,
		&eval.ProcessStatus, &eval.RoundStartedAt, &eval.Version,
		&eval.CreatedAt, &eval.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("評価プロセスの取得に失敗しました: %w", err)
	}
	eval.Decision = model.Decision(nullStringValue(decision))

	if eval.InterviewSlots, err = loadSlots(ctx, q, id); err != nil {
		return nil, err
	}
	if eval.Forms, err = loadForms(ctx, q, id); err != nil {
		return nil, err
	}
	if eval.RoundHistory, err = loadRoundHistory(ctx, q, id); err != nil {
		return nil, err
	}

	return eval, nil
}

// loadSlots は現在ラウンドの面接枠を表示順で読み込む。
func loadSlots(ctx context.Context, q querier, evaluationID string) ([]model.InterviewSlot, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT slot_id, interviewer_id, interviewer_name, case_folder_ref, fit_question_ref, order_index
		 FROM interview_slots WHERE evaluation_id = $1 ORDER BY order_index ASC`,
		evaluationID,
	)
	if err != nil {
		return nil, fmt.Errorf("面接枠の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var slots []model.InterviewSlot
	for rows.Next() {
		var s model.InterviewSlot
		if err := rows.Scan(&s.SlotID, &s.InterviewerID, &s.InterviewerName, &s.CaseFolderRef, &s.FitQuestionRef, &s.OrderIndex); err != nil {
			return nil, fmt.Errorf("面接枠の読み取りに失敗しました: %w", err)
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("面接枠の走査に失敗しました: %w", err)
	}
	return slots, nil
}

// loadForms は現在ラウンドのフォームを読み込む。
func loadForms(ctx context.Context, q querier, evaluationID string) ([]model.InterviewForm, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT slot_id, fit_score, case_score, criterion_scores, notes,
		        offer_recommendation, submitted, submitted_at
		 FROM interview_forms WHERE evaluation_id = $1 ORDER BY slot_id ASC`,
		evaluationID,
	)
	if err != nil {
		return nil, fmt.Errorf("面接フォームの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var forms []model.InterviewForm
	for rows.Next() {
		var f model.InterviewForm
		var scores []byte
		var submittedAt sql.NullTime
		if err := rows.Scan(&f.SlotID, &f.FitScore, &f.CaseScore, &scores, &f.Notes, &f.OfferRecommendation, &f.Submitted, &submittedAt); err != nil {
			return nil, fmt.Errorf("面接フォームの読み取りに失敗しました: %w", err)
		}
		if err := json.Unmarshal(scores, &f.CriterionScores); err != nil {
			return nil, fmt.Errorf("基準スコアの解析に失敗しました: %w", err)
		}
		if submittedAt.Valid {
			f.SubmittedAt = submittedAt.Time
		}
		forms = append(forms, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("面接フォームの走査に失敗しました: %w", err)
	}
	return forms, nil
}

// loadRoundHistory はラウンド履歴をラウンド番号順で読み込む。
func loadRoundHistory(ctx context.Context, q querier, evaluationID string) ([]model.RoundSnapshot, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT payload FROM round_snapshots WHERE evaluation_id = $1 ORDER BY round_number ASC`,
		evaluationID,
	)
	if err != nil {
		return nil, fmt.Errorf("ラウンド履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var history []model.RoundSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("ラウンド履歴の読み取りに失敗しました: %w", err)
		}
		var p snapshotPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("ラウンドスナップショットの解析に失敗しました: %w", err)
		}
		history = append(history, fromSnapshotPayload(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ラウンド履歴の走査に失敗しました: %w", err)
	}
	return history, nil
}

// slotTable はinterview_slotsテーブルに対するChildTable実装。
type slotTable struct{}

// ChildID は面接枠のIDを返す。
func (slotTable) ChildID(s model.InterviewSlot) string {
	return s.SlotID
}

// Upsert は面接枠を挿入または上書き更新する。
// SlotIDが未採番の場合はUUIDを新規に割り当てる。
func (slotTable) Upsert(ctx context.Context, tx *sql.Tx, parentID string, orderIndex int, s model.InterviewSlot) (model.InterviewSlot, error) {
	if s.SlotID == "" {
		s.SlotID = uuid.NewString()
	}
	s.OrderIndex = orderIndex

	_, err := tx.ExecContext(ctx,
		`INSERT INTO interview_slots
		    (slot_id, evaluation_id, interviewer_id, interviewer_name,
		     case_folder_ref, fit_question_ref, order_index)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (slot_id) DO UPDATE SET
		    interviewer_id = EXCLUDED.interviewer_id,
		    interviewer_name = EXCLUDED.interviewer_name,
		    case_folder_ref = EXCLUDED.case_folder_ref,
		    fit_question_ref = EXCLUDED.fit_question_ref,
		    order_index = EXCLUDED.order_index`,
		s.SlotID, parentID, s.InterviewerID, s.InterviewerName,
		s.CaseFolderRef, s.FitQuestionRef, s.OrderIndex,
	)
	if err != nil {
		return s, fmt.Errorf("面接枠のUPSERTに失敗しました: %w", err)
	}

	return s, nil
}

// DeleteNotIn は指定ID以外の面接枠をすべて削除する。
// 削除された面接枠のフォームと招待情報はCASCADE削除される。
func (slotTable) DeleteNotIn(ctx context.Context, tx *sql.Tx, parentID string, keep []string) (int64, error) {
	var result sql.Result
	var err error
	if len(keep) == 0 {
		result, err = tx.ExecContext(ctx, `DELETE FROM interview_slots WHERE evaluation_id = $1`, parentID)
	} else {
		result, err = tx.ExecContext(ctx,
			`DELETE FROM interview_slots WHERE evaluation_id = $1 AND NOT (slot_id = ANY($2))`,
			parentID, pq.Array(keep),
		)
	}
	if err != nil {
		return 0, fmt.Errorf("面接枠の削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// formTable はinterview_formsテーブルに対するChildTable実装。
// フォームの識別子は所属する面接枠のIDであり、新規採番は行わない。
type formTable struct{}

// ChildID はフォームが属する面接枠のIDを返す。
func (formTable) ChildID(f model.InterviewForm) string {
	return f.SlotID
}

// Upsert はフォームを挿入または上書き更新する。orderIndexは使用しない。
func (formTable) Upsert(ctx context.Context, tx *sql.Tx, parentID string, orderIndex int, f model.InterviewForm) (model.InterviewForm, error) {
	scores, err := json.Marshal(f.CriterionScores)
	if err != nil {
		return f, fmt.Errorf("基準スコアのエンコードに失敗しました: %w", err)
	}

	var submittedAt sql.NullTime
	if !f.SubmittedAt.IsZero() {
		submittedAt = sql.NullTime{Time: f.SubmittedAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO interview_forms
		    (evaluation_id, slot_id, fit_score, case_score, criterion_scores,
		     notes, offer_recommendation, submitted, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (evaluation_id, slot_id) DO UPDATE SET
		    fit_score = EXCLUDED.fit_score,
		    case_score = EXCLUDED.case_score,
		    criterion_scores = EXCLUDED.criterion_scores,
		    notes = EXCLUDED.notes,
		    offer_recommendation = EXCLUDED.offer_recommendation,
		    submitted = EXCLUDED.submitted,
		    submitted_at = EXCLUDED.submitted_at`,
		parentID, f.SlotID, f.FitScore, f.CaseScore, scores,
		f.Notes, f.OfferRecommendation, f.Submitted, submittedAt,
	)
	if err != nil {
		return f, fmt.Errorf("面接フォームのUPSERTに失敗しました: %w", err)
	}

	return f, nil
}

// DeleteNotIn は指定面接枠以外のフォームをすべて削除する。
func (formTable) DeleteNotIn(ctx context.Context, tx *sql.Tx, parentID string, keep []string) (int64, error) {
	var result sql.Result
	var err error
	if len(keep) == 0 {
		result, err = tx.ExecContext(ctx, `DELETE FROM interview_forms WHERE evaluation_id = $1`, parentID)
	} else {
		result, err = tx.ExecContext(ctx,
			`DELETE FROM interview_forms WHERE evaluation_id = $1 AND NOT (slot_id = ANY($2))`,
			parentID, pq.Array(keep),
		)
	}
	if err != nil {
		return 0, fmt.Errorf("面接フォームの削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// snapshotPayload はround_snapshots.payload列のDTO。
// モデルの形をDB境界で明示的に固定する。
type snapshotPayload struct {
	RoundNumber int           `json:"round_number"`
	Interviews  []slotPayload `json:"interviews"`
	Forms       []formPayload `json:"forms"`
	Decision    string        `json:"decision"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

type slotPayload struct {
	SlotID          string `json:"slot_id"`
	InterviewerID   string `json:"interviewer_id"`
	InterviewerName string `json:"interviewer_name"`
	CaseFolderRef   string `json:"case_folder_ref"`
	FitQuestionRef  string `json:"fit_question_ref"`
	OrderIndex      int    `json:"order_index"`
}

type formPayload struct {
	SlotID              string             `json:"slot_id"`
	FitScore            float64            `json:"fit_score"`
	CaseScore           float64            `json:"case_score"`
	CriterionScores     map[string]float64 `json:"criterion_scores"`
	Notes               string             `json:"notes"`
	OfferRecommendation bool               `json:"offer_recommendation"`
	Submitted           bool               `json:"submitted"`
	SubmittedAt         *time.Time         `json:"submitted_at,omitempty"`
}

// toSnapshotPayload はモデルのRoundSnapshotをDB境界のDTOに変換する。
func toSnapshotPayload(s model.RoundSnapshot) snapshotPayload {
	p := snapshotPayload{
		RoundNumber: s.RoundNumber,
		Decision:    string(s.Decision),
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
	for _, slot := range s.Interviews {
		p.Interviews = append(p.Interviews, slotPayload(slot))
	}
	for _, form := range s.Forms {
		fp := formPayload{
			SlotID:              form.SlotID,
			FitScore:            form.FitScore,
			CaseScore:           form.CaseScore,
			CriterionScores:     form.CriterionScores,
			Notes:               form.Notes,
			OfferRecommendation: form.OfferRecommendation,
			Submitted:           form.Submitted,
		}
		if !form.SubmittedAt.IsZero() {
			t := form.SubmittedAt
			fp.SubmittedAt = &t
		}
		p.Forms = append(p.Forms, fp)
	}
	return p
}

// fromSnapshotPayload はDB境界のDTOをモデルのRoundSnapshotに変換する。
func fromSnapshotPayload(p snapshotPayload) model.RoundSnapshot {
	s := model.RoundSnapshot{
		RoundNumber: p.RoundNumber,
		Decision:    model.Decision(p.Decision),
		StartedAt:   p.StartedAt,
		CompletedAt: p.CompletedAt,
	}
	for _, slot := range p.Interviews {
		s.Interviews = append(s.Interviews, model.InterviewSlot(slot))
	}
	for _, form := range p.Forms {
		f := model.InterviewForm{
			SlotID:              form.SlotID,
			FitScore:            form.FitScore,
			CaseScore:           form.CaseScore,
			CriterionScores:     form.CriterionScores,
			Notes:               form.Notes,
			OfferRecommendation: form.OfferRecommendation,
			Submitted:           form.Submitted,
		}
		if form.SubmittedAt != nil {
			f.SubmittedAt = *form.SubmittedAt
		}
		s.Forms = append(s.Forms, f)
	}
	return s
}

// compile-time interface check
var _ EvaluationRepository = (*PostgresEvaluationRepo)(nil)
var _ ChildTable[model.InterviewSlot] = slotTable{}
var _ ChildTable[model.InterviewForm] = formTable{}
