package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/hireman/internal/candidate"
	"github.com/hitoshi/hireman/internal/config"
	"github.com/hitoshi/hireman/internal/criteria"
	"github.com/hitoshi/hireman/internal/database"
	"github.com/hitoshi/hireman/internal/evaluation"
	"github.com/hitoshi/hireman/internal/handler"
	"github.com/hitoshi/hireman/internal/invitation"
	"github.com/hitoshi/hireman/internal/logger"
	"github.com/hitoshi/hireman/internal/metrics"
	"github.com/hitoshi/hireman/internal/middleware"
	"github.com/hitoshi/hireman/internal/repository"
	"github.com/hitoshi/hireman/internal/security"
	"github.com/hitoshi/hireman/internal/worker/cleanup"
	"github.com/hitoshi/hireman/internal/worker/invitesweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// rateLimiterConfigFrom はConfigのreq/min単位の値をレートリミッター設定に変換する。
func rateLimiterConfigFrom(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rlCfg.GeneralBurst = cfg.RateLimitGeneral
	rlCfg.WriteRate = rate.Limit(float64(cfg.RateLimitWrite) / 60.0)
	rlCfg.WriteBurst = cfg.RateLimitWrite
	rlCfg.DecisionRate = rate.Limit(float64(cfg.RateLimitDecision) / 60.0)
	rlCfg.DecisionBurst = cfg.RateLimitDecision
	return rlCfg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	store := repository.NewVersionedStore(db, cfg.LockTimeout)
	candidateRepo := repository.NewPostgresCandidateRepo(db, store)
	criterionRepo := repository.NewPostgresCriterionSetRepo(db, store)
	evalRepo := repository.NewPostgresEvaluationRepo(db, store)
	invitationRepo := repository.NewPostgresInvitationRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. セキュリティサービスの初期化
	sanitizer := security.NewNoteSanitizer()
	linkGuard := security.NewLinkGuard()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	store.SetMetrics(collector)

	// 5. ドメインサービスの初期化
	candidateService := candidate.NewService(candidateRepo, sanitizer, collector)
	criteriaService := criteria.NewService(criterionRepo, collector)
	evalService := evaluation.NewService(evalRepo, candidateRepo, sanitizer, linkGuard, collector)

	sender := invitation.NewHTTPSender(
		linkGuard.NewSafeClient(cfg.MailGatewayTimeout),
		cfg.MailGatewayURL,
		slog.Default(),
	)
	invitationService := invitation.NewService(invitationRepo, sender, collector, slog.Default())

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterConfigFrom(cfg)),
		Logger:            slog.Default(),
		StatusRecorder:    collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		CandidateService:  candidateService,
		CriteriaService:   criteriaService,
		EvaluationService: evalService,
		InvitationService: invitationService,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、招待再送スイーパーとセッションクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	invitationRepo := repository.NewPostgresInvitationRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 招待送付サービスの初期化
	linkGuard := security.NewLinkGuard()
	sender := invitation.NewHTTPSender(
		linkGuard.NewSafeClient(cfg.MailGatewayTimeout),
		cfg.MailGatewayURL,
		slog.Default(),
	)
	invitationService := invitation.NewService(invitationRepo, sender, collector, slog.Default())

	// 5. スイーパーとクリーンアップジョブの初期化
	sweeper := invitesweep.NewSweeper(
		invitationRepo, invitationService, slog.Default(),
		cfg.InviteSweepBatch, cfg.InviteMaxRetries,
	)
	cleanupJob := cleanup.NewSessionCleanupJob(sessionRepo, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("invite_sweep_interval", cfg.InviteSweepInterval),
		slog.Duration("session_sweep_interval", cfg.SessionSweepInterval),
		slog.Int("invite_sweep_batch", cfg.InviteSweepBatch),
	)

	// セッションクリーンアップジョブをバックグラウンドで起動
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("session cleanup job failed", slog.String("error", err.Error()))
		}
		cleanupJob.Start(ctx, cfg.SessionSweepInterval)
	}()

	// 招待再送スイーパーをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.InviteSweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
