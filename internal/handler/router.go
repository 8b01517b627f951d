package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/hireman/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.HTTPStatusRecorder

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ドメインサービス
	CandidateService  CandidateServiceInterface
	CriteriaService   CriteriaServiceInterface
	EvaluationService EvaluationServiceInterface
	InvitationService InvitationServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → SessionMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// 集約への書き込みエンドポイントには書き込み用レート制限を、
// 判定記録には判定専用レート制限を重ねる。
// 運用エンドポイント（/healthz、/metrics）はミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewHTTPMetricsMiddleware(deps.StatusRecorder))

	candidateHandler := NewCandidateHandler(deps.CandidateService)
	criteriaHandler := NewCriteriaHandler(deps.CriteriaService)
	evalHandler := NewEvaluationHandler(deps.EvaluationService, deps.InvitationService)

	// --- 認証不要のルート ---

	r.Get("/healthz", newHealthzHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 候補者管理
		r.Route("/api/candidates", func(r chi.Router) {
			r.Get("/", candidateHandler.ListCandidates)
			r.With(deps.RateLimiter.WriteMiddleware()).Post("/", candidateHandler.CreateCandidate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", candidateHandler.GetCandidate)
				r.With(deps.RateLimiter.WriteMiddleware()).Patch("/", candidateHandler.UpdateCandidate)
				r.With(deps.RateLimiter.WriteMiddleware()).Delete("/", candidateHandler.DeleteCandidate)

				// GET /api/candidates/{id}/evaluations - 候補者ごとの評価プロセス一覧
				r.Get("/evaluations", evalHandler.ListEvaluationsByCandidate)
			})
		})

		// ケース評価基準管理
		r.Route("/api/criteria", func(r chi.Router) {
			r.Get("/", criteriaHandler.GetCriteria)
			r.With(deps.RateLimiter.WriteMiddleware()).Put("/", criteriaHandler.ReplaceCriteria)
		})

		// 評価プロセス管理
		r.Route("/api/evaluations", func(r chi.Router) {
			r.With(deps.RateLimiter.WriteMiddleware()).Post("/", evalHandler.CreateEvaluation)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", evalHandler.GetEvaluation)
				r.With(deps.RateLimiter.WriteMiddleware()).Put("/", evalHandler.ReplaceSlots)
				r.With(deps.RateLimiter.WriteMiddleware()).Delete("/", evalHandler.DeleteEvaluation)

				// 判定記録は専用のレート制限を重ねる
				r.With(deps.RateLimiter.DecisionMiddleware()).Post("/decision", evalHandler.RecordDecision)

				r.With(deps.RateLimiter.WriteMiddleware()).Post("/forms/{slotId}", evalHandler.SubmitForm)
				r.With(deps.RateLimiter.WriteMiddleware()).Post("/invitations/resend", evalHandler.ResendInvitations)
			})
		})
	})

	return r
}

// newHealthzHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// checkerがnilの場合は常に200を返す。
func newHealthzHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
