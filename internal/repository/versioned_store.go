package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/hireman/internal/model"
)

// pqLockNotAvailable はlock_timeout超過時にPostgreSQLが返すエラーコード。
const pqLockNotAvailable = "55P03"

// pqUniqueViolation は一意制約違反のPostgreSQLエラーコード。
const pqUniqueViolation = "23505"

// defaultLockTimeout は行ロック待ちのデフォルト上限。
// 上限を超えた書き込みは再試行可能エラーで即座に失敗させ、
// 競合時のライター飢餓を防ぐ。
const defaultLockTimeout = 3 * time.Second

// AggregateRef はバージョン付き集約の親行を特定する参照。
// Tableはリポジトリ内の定数のみを指定すること（ユーザー入力を渡してはならない）。
type AggregateRef struct {
	Table string
	ID    string
}

// AggregateMeta はロック取得後に観測した集約の状態。
type AggregateMeta struct {
	Exists  bool
	Version int
}

// Mutation は親行ロック下で実行される変更クロージャ。
// 集約が未作成の場合はversion=1の親行の挿入まで自身で行う。
// バージョンのインクリメントとupdated_atの更新はストアが行う。
type Mutation func(ctx context.Context, tx *sql.Tx, current AggregateMeta) error

// WriteMetrics は書き込み経路の観測インターフェース。
type WriteMetrics interface {
	RecordLockTimeout(aggregate string)
	RecordWriteLatency(aggregate string, duration time.Duration)
}

// VersionedStore はバージョン付き集約への楽観ロック書き込みを提供する。
//
// 書き込みはトランザクション内で親行をSELECT FOR UPDATEし、
// 期待バージョンと現在バージョンを比較してから変更クロージャを実行する。
// 同一集約への同時書き込みは行ロックで直列化され、異なる集約への
// 書き込みは互いに独立する。読み取りはコミット済みスナップショットを
// 返すだけでライターのロックを待たない。
type VersionedStore struct {
	db          *sql.DB
	lockTimeout time.Duration
	metrics     WriteMetrics
}

// NewVersionedStore はVersionedStoreを生成する。
// lockTimeoutが0以下の場合はデフォルト値（3秒）を使用する。
func NewVersionedStore(db *sql.DB, lockTimeout time.Duration) *VersionedStore {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &VersionedStore{db: db, lockTimeout: lockTimeout}
}

// SetMetrics は書き込みメトリクスの観測先を設定する。nilのままでもよい。
func (s *VersionedStore) SetMetrics(m WriteMetrics) {
	s.metrics = m
}

// Write は集約への楽観ロック書き込みを実行する。
//
// expectedVersion=0 は初回書き込みを意味し、mutateがversion=1の親行を
// 作成する。既存集約のバージョンがexpectedVersionと一致しない場合は
// ロールバックしてVERSION_CONFLICTを返す（部分的な効果は一切残らない）。
// 成功時は新しいバージョンとupdated_atを返し、以降の読み取りから
// 即座に可視になる。
func (s *VersionedStore) Write(ctx context.Context, ref AggregateRef, expectedVersion int, mutate Mutation) (int, time.Time, error) {
	if expectedVersion < 0 {
		return 0, time.Time{}, model.NewInvalidInputError(fmt.Sprintf("期待バージョンが負の値です: %d", expectedVersion))
	}

	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	// ロック待ちの上限を設定する（SET LOCALのためトランザクション内のみ有効）
	lockTimeoutMs := s.lockTimeout.Milliseconds()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeoutMs)); err != nil {
		return 0, time.Time{}, fmt.Errorf("lock_timeoutの設定に失敗しました: %w", err)
	}

	// 親行を行ロック付きで再読み込みし、同一集約への書き込みを直列化する
	var current int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT version FROM %s WHERE id = $1 FOR UPDATE`, ref.Table),
		ref.ID,
	).Scan(&current)

	meta := AggregateMeta{}
	switch {
	case err == sql.ErrNoRows:
		if expectedVersion != 0 {
			return 0, time.Time{}, model.NewVersionConflictError(expectedVersion, 0)
		}
	case err != nil:
		if isLockTimeout(err) {
			s.recordLockTimeout(ref.Table)
			return 0, time.Time{}, model.NewLockTimeoutError()
		}
		return 0, time.Time{}, fmt.Errorf("集約バージョンの読み取りに失敗しました: %w", err)
	default:
		if expectedVersion != current {
			return 0, time.Time{}, model.NewVersionConflictError(expectedVersion, current)
		}
		meta.Exists = true
		meta.Version = current
	}

	if err := mutate(ctx, tx, meta); err != nil {
		// 子行のロック取得はmutate内で行われるため、ここでも分類する
		if isLockTimeout(err) {
			s.recordLockTimeout(ref.Table)
			return 0, time.Time{}, model.NewLockTimeoutError()
		}
		// 初回書き込みの競合: 不在の親行はFOR UPDATEでロックできないため、
		// 同時の初回書き込みは両方がErrNoRows分岐を通過し、敗者のINSERTが
		// 一意制約違反で失敗する。これは楽観ロックの競合として扱う。
		if !meta.Exists && isUniqueViolation(err) {
			return 0, time.Time{}, model.NewVersionConflictError(0, 1)
		}
		return 0, time.Time{}, err
	}

	var newVersion int
	var updatedAt time.Time
	if meta.Exists {
		err = tx.QueryRowContext(ctx,
			fmt.Sprintf(`UPDATE %s SET version = version + 1, updated_at = now() WHERE id = $1 RETURNING version, updated_at`, ref.Table),
			ref.ID,
		).Scan(&newVersion, &updatedAt)
	} else {
		// 初回書き込み: mutateがversion=1で親行を挿入済みであることを確認する
		err = tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT version, updated_at FROM %s WHERE id = $1`, ref.Table),
			ref.ID,
		).Scan(&newVersion, &updatedAt)
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("集約バージョンの更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordWriteLatency(ref.Table, time.Since(start))
	}
	return newVersion, updatedAt, nil
}

// recordLockTimeout はロック待ちタイムアウトのメトリクスを記録する。
func (s *VersionedStore) recordLockTimeout(aggregate string) {
	if s.metrics != nil {
		s.metrics.RecordLockTimeout(aggregate)
	}
}

// isLockTimeout はlock_timeout超過によるエラーかを判定する。
func isLockTimeout(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqLockNotAvailable
	}
	return false
}

// isUniqueViolation は一意制約違反によるエラーかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}
