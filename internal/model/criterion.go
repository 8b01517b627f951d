// Package model はドメインモデルを定義する。
package model

import "time"

// RatingLevels はケース評価基準の評価段階数（1〜5）。
const RatingLevels = 5

// CriterionSet は全評価で共有されるケース評価基準セットを表す。
// 親行としてバージョンのみを保持し、子のCriterionを所有する。
// 子セットは常に最後に成功した書き込みの提出内容と完全一致する（全置換）。
type CriterionSet struct {
	ID        string
	Criteria  []Criterion
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CriterionSetID は評価基準セットのシングルトン親行ID。
const CriterionSetID = "default"

// Criterion はケース評価基準の1項目を表す。
// OrderIndexは提出順を反映し、表示順として使用される。
type Criterion struct {
	ID                 string
	Title              string
	RatingDescriptions [RatingLevels]string // 1〜5点それぞれの評価基準の説明
	OrderIndex         int
}
