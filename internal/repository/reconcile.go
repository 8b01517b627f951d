package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// ChildTable は親集約に属する子行の全置換リコンサイルに必要な操作を定義する。
// すべての操作は親のストアトランザクション内で実行される。
type ChildTable[T any] interface {
	// ChildID は子のIDを返す。未採番の場合は空文字列を返す。
	ChildID(child T) string

	// Upsert は子を挿入または上書き更新する。
	// IDが未採番の場合は新しいIDを割り当て、採番済みの子を返す。
	// orderIndexには提出順を渡す。
	Upsert(ctx context.Context, tx *sql.Tx, parentID string, orderIndex int, child T) (T, error)

	// DeleteNotIn は指定ID以外の子行をすべて削除し、削除件数を返す。
	// keepが空の場合は親に属する子行をすべて削除する。
	DeleteNotIn(ctx context.Context, tx *sql.Tx, parentID string, keep []string) (int64, error)
}

// ReconcileChildSet は提出された子コレクションを全置換セマンティクスで
// 永続化する。提出された子をUPSERTした後、提出セットに含まれない
// 既存の子行をすべて削除する（部分パッチではなく完全な望ましい状態の適用）。
// 空の提出リストは子セットのクリアを意味し、エラーではない。
//
// 親のバージョンインクリメントと同一トランザクション内で呼び出すこと。
// 途中で失敗した場合はトランザクション全体がロールバックされ、
// 古いバージョンに対して子だけが更新された状態は観測されない。
func ReconcileChildSet[T any](ctx context.Context, tx *sql.Tx, parentID string, submitted []T, table ChildTable[T]) ([]T, error) {
	persisted := make([]T, 0, len(submitted))
	keep := make([]string, 0, len(submitted))

	for i, child := range submitted {
		saved, err := table.Upsert(ctx, tx, parentID, i, child)
		if err != nil {
			return nil, fmt.Errorf("子行のUPSERTに失敗しました（順序 %d）: %w", i, err)
		}
		persisted = append(persisted, saved)
		keep = append(keep, table.ChildID(saved))
	}

	if _, err := table.DeleteNotIn(ctx, tx, parentID, keep); err != nil {
		return nil, fmt.Errorf("提出セットに含まれない子行の削除に失敗しました: %w", err)
	}

	return persisted, nil
}
