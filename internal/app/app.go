package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/manas332/profile-official-sub000/internal/auth"
	"github.com/manas332/profile-official-sub000/internal/config"
	"github.com/manas332/profile-official-sub000/internal/database"
	"github.com/manas332/profile-official-sub000/internal/handler"
	"github.com/manas332/profile-official-sub000/internal/identity"
	"github.com/manas332/profile-official-sub000/internal/logger"
	"github.com/manas332/profile-official-sub000/internal/metrics"
	"github.com/manas332/profile-official-sub000/internal/middleware"
	"github.com/manas332/profile-official-sub000/internal/otp"
	"github.com/manas332/profile-official-sub000/internal/pkce"
	"github.com/manas332/profile-official-sub000/internal/repository"
	"github.com/manas332/profile-official-sub000/internal/security"
	"github.com/manas332/profile-official-sub000/internal/session"
	"github.com/manas332/profile-official-sub000/internal/worker/cleanup"
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

	// 3. LOG_LEVELを反映する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("falling back to info log level", slog.String("error", err.Error()))
	}
	logger.SetupDefaultWithLevel(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// server はAPIサーバーの構成要素。closeで外部接続を解放する。
type server struct {
	handler  http.Handler
	limiter  *middleware.RateLimiter
	notifier otp.Notifier
}

func (s *server) close() {
	s.limiter.Stop()
	if c, ok := s.notifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close OTP notifier", slog.String("error", err.Error()))
		}
	}
}

// newNotifier はKafkaが設定されていればKafkaNotifierを、なければLogNotifierを返す。
func newNotifier(cfg *config.Config) otp.Notifier {
	if !cfg.KafkaEnabled() {
		slog.Warn("KAFKA_BROKERS is not set, OTP delivery is disabled")
		return otp.LogNotifier{}
	}
	return otp.NewKafkaNotifier(otp.KafkaConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaOTPTopic,
		Username: cfg.KafkaUsername,
		Password: cfg.KafkaPassword,
		From:     cfg.MailFrom,
	})
}

// newIDTokenVerifier はIDP_ISSUER_URLが設定されていればOIDC検証器を生成する。
// 未設定の場合はnilを返し、IDトークンは検証せずにそのまま扱う。
func newIDTokenVerifier(ctx context.Context, cfg *config.Config) (pkce.IDTokenVerifier, error) {
	if cfg.IDPIssuerURL == "" {
		return nil, nil
	}
	v, err := pkce.NewOIDCVerifier(ctx, cfg.IDPIssuerURL, cfg.IDPClientID)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// buildServer は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
func buildServer(ctx context.Context, cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*server, error) {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	otpRepo := repository.NewPostgresOTPRepo(db)
	credRepo := repository.NewPostgresCredentialRepo(db)

	// 2. IdPとの連携
	verifier, err := newIDTokenVerifier(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up id token verifier: %w", err)
	}
	exchanger := pkce.NewExchanger(pkce.Config{
		ClientID:     cfg.IDPClientID,
		ClientSecret: cfg.IDPClientSecret,
		Domain:       cfg.IDPDomain,
		RedirectURI:  cfg.IDPRedirectURI,
		HTTPTimeout:  cfg.IDPHTTPTimeout,
	}, verifier)

	// 3. ドメインサービスの初期化
	notifier := newNotifier(cfg)
	otpService := otp.NewService(otpRepo, notifier, otp.WithTTL(cfg.OTPTTL))
	provider := identity.NewLocalProvider(credRepo, []byte(cfg.TokenSigningKey), identity.WithIssuer(cfg.BaseURL))
	reconciler := auth.NewReconciler(userRepo, security.NewNameSanitizer(), collector)

	authService := auth.NewService(auth.Deps{
		Users:      userRepo,
		OTP:        otpService,
		Identity:   provider,
		Exchanger:  exchanger,
		Reconciler: reconciler,
		Metrics:    collector,
	})

	// 4. セッションとPKCE検証子の保存先
	sessions := session.NewManager(session.Config{
		Secret: []byte(cfg.SessionSecret),
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
		TTL:    cfg.SessionTTL,
	})
	verifiers := pkce.NewCookieStore(cfg.CookieSecure)

	// 5. ミドルウェア依存
	limiterCfg := middleware.DefaultRateLimiterConfig()
	// RATE_LIMIT_AUTHはreq/min単位なのでreq/secに変換する
	limiterCfg.AuthRate = perMinute(cfg.RateLimitAuth)
	limiterCfg.AuthBurst = cfg.RateLimitAuth
	limiterCfg.TrustForwardedFor = cfg.RateLimitTrustProxy
	limiterCfg.OnLimited = func(*http.Request) { collector.RecordRateLimited() }
	limiter := middleware.NewRateLimiter(limiterCfg)

	// 6. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		AuthService: authService,
		Sessions:    sessions,
		Verifiers:   verifiers,
		AuthConfig:  handler.AuthHandlerConfig{BaseURL: cfg.BaseURL},

		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: limiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
	})

	return &server{handler: router, limiter: limiter, notifier: notifier}, nil
}

// newRegistry はプロセス単位のPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv, err := buildServer(ctx, cfg, db, newRegistry())
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れOTPの削除ジョブを定期実行する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	collector := metrics.NewCollector(newRegistry())
	job := cleanup.NewOTPPurgeJob(repository.NewPostgresOTPRepo(db), slog.Default(), collector)
	job.Interval = cfg.OTPPurgeInterval

	slog.Info("worker starting",
		slog.Duration("otp_purge_interval", job.Interval),
	)

	// ctxがキャンセルされるまでブロックする
	job.Start(ctx)

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
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// perMinute はreq/minをreq/secのrate.Limitに変換する。
func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
