package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/hireman/internal/model"
)

// candidateTable は候補者の親テーブル名。
const candidateTable = "candidates"

// PostgresCandidateRepo はPostgreSQLを使用した候補者リポジトリ。
type PostgresCandidateRepo struct {
	db    *sql.DB
	store *VersionedStore
}

// NewPostgresCandidateRepo はPostgresCandidateRepoを生成する。
func NewPostgresCandidateRepo(db *sql.DB, store *VersionedStore) *PostgresCandidateRepo {
	return &PostgresCandidateRepo{db: db, store: store}
}

// FindByID は指定IDの候補者を取得する。見つからない場合はnilを返す。
func (r *PostgresCandidateRepo) FindByID(ctx context.Context, id string) (*model.Candidate, error) {
	return scanCandidate(r.db.QueryRowContext(ctx,
		`SELECT id, name, email, source, stage, notes, version, created_at, updated_at
		 FROM candidates WHERE id = $1`,
		id,
	))
}

// List は候補者一覧を作成日時降順で返す。
func (r *PostgresCandidateRepo) List(ctx context.Context) ([]*model.Candidate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, email, source, stage, notes, version, created_at, updated_at
		 FROM candidates ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("候補者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var candidates []*model.Candidate
	for rows.Next() {
		c := &model.Candidate{}
		var source, notes sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &source, &c.Stage, &notes, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("候補者の読み取りに失敗しました: %w", err)
		}
		c.Source = nullStringValue(source)
		c.Notes = nullStringValue(notes)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("候補者一覧の走査に失敗しました: %w", err)
	}
	return candidates, nil
}

// Create は候補者をversion=1で作成する。
// candidate.IDが未採番の場合はUUIDを割り当てる。
func (r *PostgresCandidateRepo) Create(ctx context.Context, candidate *model.Candidate) error {
	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}

	ref := AggregateRef{Table: candidateTable, ID: candidate.ID}
	newVersion, updatedAt, err := r.store.Write(ctx, ref, 0, func(ctx context.Context, tx *sql.Tx, current AggregateMeta) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO candidates (id, name, email, source, stage, notes, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, 1, now(), now())`,
			candidate.ID, candidate.Name, candidate.Email,
			nullString(candidate.Source), candidate.Stage, nullString(candidate.Notes),
		)
		if err != nil {
			return fmt.Errorf("候補者の作成に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	candidate.Version = newVersion
	candidate.UpdatedAt = updatedAt
	return nil
}

// Update は楽観ロック付きで候補者を部分更新する。
func (r *PostgresCandidateRepo) Update(ctx context.Context, id string, expectedVersion int, patch CandidatePatch) (*model.Candidate, error) {
	if expectedVersion < 1 {
		return nil, model.NewInvalidInputError(fmt.Sprintf("既存の候補者の更新には1以上の期待バージョンが必要です: %d", expectedVersion))
	}

	var updated *model.Candidate
	ref := AggregateRef{Table: candidateTable, ID: id}

	newVersion, updatedAt, err := r.store.Write(ctx, ref, expectedVersion, func(ctx context.Context, tx *sql.Tx, current AggregateMeta) error {
		candidate, err := scanCandidate(tx.QueryRowContext(ctx,
			`SELECT id, name, email, source, stage, notes, version, created_at, updated_at
			 FROM candidates WHERE id = $1`,
			id,
		))
		if err != nil {
			return err
		}
		if candidate == nil {
			return model.NewCandidateNotFoundError(id)
		}

		if patch.Name != nil {
			candidate.Name = *patch.Name
		}
		if patch.Email != nil {
			candidate.Email = *patch.Email
		}
		if patch.Source != nil {
			candidate.Source = *patch.Source
		}
		if patch.Stage != nil {
			candidate.Stage = *patch.Stage
		}
		if patch.Notes != nil {
			candidate.Notes = *patch.Notes
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE candidates SET name = $2, email = $3, source = $4, stage = $5, notes = $6 WHERE id = $1`,
			candidate.ID, candidate.Name, candidate.Email,
			nullString(candidate.Source), candidate.Stage, nullString(candidate.Notes),
		); err != nil {
			return fmt.Errorf("候補者の更新に失敗しました: %w", err)
		}

		updated = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated.Version = newVersion
	updated.UpdatedAt = updatedAt
	return updated, nil
}

// Delete は候補者を削除する。関連する評価プロセスはCASCADE削除される。
func (r *PostgresCandidateRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM candidates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("候補者の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewCandidateNotFoundError(id)
	}
	return nil
}

// scanCandidate は1行のスキャン結果をCandidateに変換する。見つからない場合はnilを返す。
func scanCandidate(row *sql.Row) (*model.Candidate, error) {
	c := &model.Candidate{}
	var source, notes sql.NullString
	err := row.Scan(&c.ID, &c.Name, &c.Email, &source, &c.Stage, &notes, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("候補者の取得に失敗しました: %w", err)
	}
	c.Source = nullStringValue(source)
	c.Notes = nullStringValue(notes)
	return c, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ CandidateRepository = (*PostgresCandidateRepo)(nil)
