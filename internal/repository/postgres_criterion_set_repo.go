package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/hireman/internal/model"
)

// criterionSetTable は評価基準セットの親テーブル名。
const criterionSetTable = "criterion_sets"

// PostgresCriterionSetRepo はPostgreSQLを使用した評価基準セットリポジトリ。
type PostgresCriterionSetRepo struct {
	db    *sql.DB
	store *VersionedStore
}

// NewPostgresCriterionSetRepo はPostgresCriterionSetRepoを生成する。
func NewPostgresCriterionSetRepo(db *sql.DB, store *VersionedStore) *PostgresCriterionSetRepo {
	return &PostgresCriterionSetRepo{db: db, store: store}
}

// Get は評価基準セットを取得する。未作成の場合はnilを返す。
// 読み取りはコミット済みスナップショットを返し、ライターのロックを待たない。
func (r *PostgresCriterionSetRepo) Get(ctx context.Context) (*model.CriterionSet, error) {
	set := &model.CriterionSet{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, version, created_at, updated_at FROM criterion_sets WHERE id = $1`,
		model.CriterionSetID,
	).Scan(&set.ID, &set.Version, &set.CreatedAt, &set.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("評価基準セットの取得に失敗しました: %w", err)
	}

	criteria, err := r.listCriteria(ctx, set.ID)
	if err != nil {
		return nil, err
	}
	set.Criteria = criteria

	return set, nil
}

// Replace は評価基準セット全体を全置換セマンティクスで書き込む。
func (r *PostgresCriterionSetRepo) Replace(ctx context.Context, expectedVersion int, criteria []model.Criterion) (*model.CriterionSet, error) {
	ref := AggregateRef{Table: criterionSetTable, ID: model.CriterionSetID}

	newVersion, updatedAt, err := r.store.Write(ctx, ref, expectedVersion, func(ctx context.Context, tx *sql.Tx, current AggregateMeta) error {
		if !current.Exists {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO criterion_sets (id, version, created_at, updated_at) VALUES ($1, 1, now(), now())`,
				model.CriterionSetID,
			); err != nil {
				return fmt.Errorf("評価基準セットの作成に失敗しました: %w", err)
			}
		}

		_, err := ReconcileChildSet(ctx, tx, model.CriterionSetID, criteria, criterionTable{})
		return err
	})
	if err != nil {
		return nil, err
	}

	set, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("書き込み直後の評価基準セットが読み取れません")
	}
	set.Version = newVersion
	set.UpdatedAt = updatedAt

	return set, nil
}

// listCriteria は評価基準セットの子行を表示順で取得する。
func (r *PostgresCriterionSetRepo) listCriteria(ctx context.Context, setID string) ([]model.Criterion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, rating_descriptions, order_index
		 FROM criteria WHERE set_id = $1 ORDER BY order_index ASC`,
		setID,
	)
	if err != nil {
		return nil, fmt.Errorf("評価基準の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var criteria []model.Criterion
	for rows.Next() {
		var c model.Criterion
		var descriptions []byte
		if err := rows.Scan(&c.ID, &c.Title, &descriptions, &c.OrderIndex); err != nil {
			return nil, fmt.Errorf("評価基準の読み取りに失敗しました: %w", err)
		}
		if err := json.Unmarshal(descriptions, &c.RatingDescriptions); err != nil {
			return nil, fmt.Errorf("評価段階説明の解析に失敗しました: %w", err)
		}
		criteria = append(criteria, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("評価基準の走査に失敗しました: %w", err)
	}

	return criteria, nil
}

// criterionTable はcriteriaテーブルに対するChildTable実装。
type criterionTable struct{}

// ChildID は評価基準のIDを返す。
func (criterionTable) ChildID(c model.Criterion) string {
	return c.ID
}

// Upsert は評価基準を挿入または上書き更新する。
// IDが未採番の場合はUUIDを新規に割り当てる。
func (criterionTable) Upsert(ctx context.Context, tx *sql.Tx, parentID string, orderIndex int, c model.Criterion) (model.Criterion, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.OrderIndex = orderIndex

	descriptions, err := json.Marshal(c.RatingDescriptions)
	if err != nil {
		return c, fmt.Errorf("評価段階説明のエンコードに失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO criteria (id, set_id, title, rating_descriptions, order_index)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		    title = EXCLUDED.title,
		    rating_descriptions = EXCLUDED.rating_descriptions,
		    order_index = EXCLUDED.order_index`,
		c.ID, parentID, c.Title, descriptions, c.OrderIndex,
	)
	if err != nil {
		return c, fmt.Errorf("評価基準のUPSERTに失敗しました: %w", err)
	}

	return c, nil
}

// DeleteNotIn は指定ID以外の評価基準をすべて削除する。
func (criterionTable) DeleteNotIn(ctx context.Context, tx *sql.Tx, parentID string, keep []string) (int64, error) {
	var result sql.Result
	var err error
	if len(keep) == 0 {
		result, err = tx.ExecContext(ctx, `DELETE FROM criteria WHERE set_id = $1`, parentID)
	} else {
		result, err = tx.ExecContext(ctx,
			`DELETE FROM criteria WHERE set_id = $1 AND NOT (id = ANY($2))`,
			parentID, pq.Array(keep),
		)
	}
	if err != nil {
		return 0, fmt.Errorf("評価基準の削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ CriterionSetRepository = (*PostgresCriterionSetRepo)(nil)
var _ ChildTable[model.Criterion] = criterionTable{}
