package handler

import (
	"github.com/hitoshi/hireman/internal/candidate"
	"github.com/hitoshi/hireman/internal/criteria"
	"github.com/hitoshi/hireman/internal/evaluation"
	"github.com/hitoshi/hireman/internal/invitation"
)

// ドメインサービスがハンドラーのインターフェースを満たすことのコンパイル時検証。
// シグネチャが一致するためアダプタは不要で、サービスをそのまま注入できる。
var _ CandidateServiceInterface = (*candidate.Service)(nil)
var _ CriteriaServiceInterface = (*criteria.Service)(nil)
var _ EvaluationServiceInterface = (*evaluation.Service)(nil)
var _ InvitationServiceInterface = (*invitation.Service)(nil)
