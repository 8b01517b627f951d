package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/hitoshi/hireman/internal/database"
	"github.com/hitoshi/hireman/internal/model"
)

// openIntegrationDB はTEST_DATABASE_URLが設定されている場合のみ、
// マイグレーション適用済みのデータベース接続を返す。
// 未設定の場合はテストをスキップする。
func openIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	if err := database.RunMigrations(dsn); err != nil {
		t.Fatalf("マイグレーションの適用に失敗: %v", err)
	}

	db, err := database.Open(dsn)
	if err != nil {
		t.Fatalf("データベース接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("データベースへの疎通確認に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// insertCandidateRow は候補者行をversion=1で直接挿入し、テスト終了時に削除する。
func insertCandidateRow(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO candidates (id, name, email) VALUES ($1, '統合テスト候補者', 'integration@example.com')`,
		id,
	)
	if err != nil {
		t.Fatalf("候補者行の挿入に失敗: %v", err)
	}
	t.Cleanup(func() {
		db.Exec(`DELETE FROM candidates WHERE id = $1`, id)
	})
}

// 同一バージョンに対する2本の同時書き込みは、ちょうど1本だけが成功し、
// もう1本は型付きのVERSION_CONFLICTを受け取ること
func TestVersionedStore_Write_ConcurrentWriters_ExactlyOneWins(t *testing.T) {
	db := openIntegrationDB(t)

	candidateID := uuid.NewString()
	insertCandidateRow(t, db, candidateID)

	store := NewVersionedStore(db, 0)
	ref := AggregateRef{Table: "candidates", ID: candidateID}

	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, _, err := store.Write(context.Background(), ref, 1, func(ctx context.Context, tx *sql.Tx, current AggregateMeta) error {
				_, err := tx.ExecContext(ctx, `UPDATE candidates SET name = '更新済み' WHERE id = $1`, candidateID)
				return err
			})
			results <- err
		}()
	}
	close(start)

	var wins, conflicts int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			wins++
			continue
		}
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeVersionConflict {
			t.Fatalf("expected VERSION_CONFLICT, got %v", err)
		}
		conflicts++
	}

	if wins != 1 || conflicts != 1 {
		t.Errorf("wins = %d, conflicts = %d, want 1 and 1", wins, conflicts)
	}

	var version int
	if err := db.QueryRow(`SELECT version FROM candidates WHERE id = $1`, candidateID).Scan(&version); err != nil {
		t.Fatalf("バージョンの読み取りに失敗: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2 (勝者1本分のみインクリメント)", version)
	}
}

// 同一集約への2本の同時初回書き込み（expectedVersion=0）は、
// ちょうど1本だけが作成に成功し、敗者のINSERT一意制約違反は
// VERSION_CONFLICTとして分類されること
func TestVersionedStore_Write_ConcurrentFirstWrites_LoserGetsVersionConflict(t *testing.T) {
	db := openIntegrationDB(t)

	candidateID := uuid.NewString()
	t.Cleanup(func() {
		db.Exec(`DELETE FROM candidates WHERE id = $1`, candidateID)
	})

	store := NewVersionedStore(db, 0)
	ref := AggregateRef{Table: "candidates", ID: candidateID}

	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, _, err := store.Write(context.Background(), ref, 0, func(ctx context.Context, tx *sql.Tx, current AggregateMeta) error {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO candidates (id, name, email) VALUES ($1, '初回書き込み競合', 'race@example.com')`,
					candidateID,
				)
				return err
			})
			results <- err
		}()
	}
	close(start)

	var wins, conflicts int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			wins++
			continue
		}
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeVersionConflict {
			t.Fatalf("expected VERSION_CONFLICT, got %v", err)
		}
		conflicts++
	}

	if wins != 1 || conflicts != 1 {
		t.Errorf("wins = %d, conflicts = %d, want 1 and 1", wins, conflicts)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM candidates WHERE id = $1`, candidateID).Scan(&count); err != nil {
		t.Fatalf("行数の読み取りに失敗: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

// クレーム済みの再送対象はクールダウン期間内の再クレームから除外されること
func TestPostgresInvitationRepo_ListPendingResend_ClaimBlocksReclaim(t *testing.T) {
	db := openIntegrationDB(t)

	candidateID := uuid.NewString()
	insertCandidateRow(t, db, candidateID)

	evaluationID := uuid.NewString()
	if _, err := db.Exec(
		`INSERT INTO evaluations (id, candidate_id, process_status) VALUES ($1, $2, 'in-progress')`,
		evaluationID, candidateID,
	); err != nil {
		t.Fatalf("評価プロセス行の挿入に失敗: %v", err)
	}

	slotID := uuid.NewString()
	if _, err := db.Exec(
		`INSERT INTO interview_slots (slot_id, evaluation_id, interviewer_id, interviewer_name)
		 VALUES ($1, $2, 'int-1', '佐藤')`,
		slotID, evaluationID,
	); err != nil {
		t.Fatalf("面接枠行の挿入に失敗: %v", err)
	}

	if _, err := db.Exec(
		`INSERT INTO invitation_assignments (slot_id, evaluation_id, interviewer_id, interviewer_name, details_checksum)
		 VALUES ($1, $2, 'int-1', '佐藤', 'checksum-1')`,
		slotID, evaluationID,
	); err != nil {
		t.Fatalf("招待行の挿入に失敗: %v", err)
	}

	repo := NewPostgresInvitationRepo(db)

	first, err := repo.ListPendingResend(context.Background(), 100)
	if err != nil {
		t.Fatalf("1回目のクレームに失敗: %v", err)
	}
	if !containsSlot(first, slotID) {
		t.Fatalf("1回目のクレームに対象枠 %s が含まれていない", slotID)
	}

	second, err := repo.ListPendingResend(context.Background(), 100)
	if err != nil {
		t.Fatalf("2回目のクレームに失敗: %v", err)
	}
	if containsSlot(second, slotID) {
		t.Errorf("クレーム済みの枠 %s がクールダウン内に再クレームされた", slotID)
	}

	var attemptStamped bool
	if err := db.QueryRow(
		`SELECT last_delivery_attempt_at IS NOT NULL FROM invitation_assignments WHERE slot_id = $1`,
		slotID,
	).Scan(&attemptStamped); err != nil {
		t.Fatalf("クレーム印の読み取りに失敗: %v", err)
	}
	if !attemptStamped {
		t.Error("クレーム時にlast_delivery_attempt_atが押印されていない")
	}
}

func containsSlot(assignments []*model.InvitationAssignment, slotID string) bool {
	for _, a := range assignments {
		if a.SlotID == slotID {
			return true
		}
	}
	return false
}
