package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maslennikov-ig/buhbot-sla/chatapi"
	"github.com/maslennikov-ig/buhbot-sla/chatapi/telegram"
	"github.com/maslennikov-ig/buhbot-sla/classify"
	"github.com/maslennikov-ig/buhbot-sla/delivery"
	"github.com/maslennikov-ig/buhbot-sla/escalation"
	"github.com/maslennikov-ig/buhbot-sla/ingestion"
	"github.com/maslennikov-ig/buhbot-sla/internal/config"
	"github.com/maslennikov-ig/buhbot-sla/internal/version"
	"github.com/maslennikov-ig/buhbot-sla/metrics"
	"github.com/maslennikov-ig/buhbot-sla/model"
	"github.com/maslennikov-ig/buhbot-sla/reconcile"
	"github.com/maslennikov-ig/buhbot-sla/store"
	"github.com/maslennikov-ig/buhbot-sla/timer"
)

var rootCmd = &cobra.Command{
	Use:   "buhbot-sla",
	Short: `SLA tracking and escalation engine for an accounting-firm chat bot.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		cfg := &config.Config{
			Mode:   viper.GetString("mode"),
			Addr:   viper.GetString("addr"),
			Port:   viper.GetInt("port"),
			Driver: viper.GetString("driver"),
			DSN:    viper.GetString("dsn"),
		}
		cfg.FromEnv()
		cfg.Version = version.GetCurrentVersion(cfg.Mode)
		if err := cfg.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("buhbot-sla exited with error", "error", err)
			os.Exit(1)
		}
	},
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := store.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	channel, err := telegram.New(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("create telegram channel: %w", err)
	}

	promExporter := metrics.New(metrics.Config{})

	classifier := buildClassifier(cfg, db)
	classifier.SetMetrics(promExporter)

	timerEngine := timer.New(db)

	sender := delivery.NewSender(channel, cfg.AlertDeliveryRateLimit, db)
	sender.SetMetrics(promExporter)

	escalationEngine := escalation.New(db, timerEngine, sender)
	escalationEngine.SetMetrics(promExporter)

	faqMatcher := ingestion.NewFAQMatcher(db)
	pipeline := ingestion.New(db, db, classifier, faqMatcher, escalationEngine)
	pipeline.SetMetrics(promExporter)

	callbackHandler := ingestion.NewCallbackHandler(db, sender)

	reconciler := reconcile.New(db, escalationEngine, reconcileHolderID())
	reconciler.SetMetrics(promExporter)

	registerTimerWorkerGroups(timerEngine, escalationEngine, cfg)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { timerEngine.Run(gCtx); return nil })
	g.Go(func() error { reconciler.Run(gCtx); return nil })
	g.Go(func() error { return serveMetrics(gCtx, cfg.MetricsAddr, promExporter) })
	g.Go(func() error {
		return channel.Listen(gCtx, func(ctx context.Context, ev *chatapi.InboundEvent) error {
			return dispatchEvent(ctx, pipeline, callbackHandler, ev)
		})
	})

	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	go func() {
		<-c
		cancelRun()
	}()

	printGreetings(cfg)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dispatchEvent routes a normalized inbound event to the right pipeline
// entry point by event type (spec.md §4.1 step 1 / §4.6 / §6).
func dispatchEvent(ctx context.Context, p *ingestion.Pipeline, cb *ingestion.CallbackHandler, ev *chatapi.InboundEvent) error {
	switch ev.EventType {
	case chatapi.EventTypeMemberUpdate:
		return p.HandleMembershipUpdate(ctx, ev)
	case chatapi.EventTypeCallbackQuery:
		return cb.HandleCallbackQuery(ctx, ev)
	default:
		return p.HandleMessage(ctx, ev)
	}
}

func buildClassifier(cfg *config.Config, db *store.DB) *classify.Classifier {
	var aiClient classify.AIClient
	if cfg.IsAIEnabled() {
		raw := classify.NewOpenAIClient(classify.OpenAIConfig{
			Provider: cfg.AIProvider,
			Model:    cfg.AIModel,
			APIKey:   cfg.AIAPIKey,
			BaseURL:  cfg.AIBaseURL,
			Timeout:  time.Duration(cfg.AITimeoutSeconds) * time.Second,
		})
		aiClient = classify.NewCircuitBreakerAIClient(raw)
	}
	return classify.New(aiClient, ingestion.NewClassifyCacheAdapter(db))
}

// registerTimerWorkerGroups wires three worker groups (sla-warning,
// sla-breach, sla-escalation) onto the durable job types escalation.Engine's
// handlers consume. The warning and breach groups use SLATimerConcurrency;
// the escalation group uses AlertDeliveryConcurrency and the delivery rate
// limiter.
func registerTimerWorkerGroups(timerEngine *timer.Engine, esc *escalation.Engine, cfg *config.Config) {
	poll := time.Duration(cfg.TimerPollIntervalMillis) * time.Millisecond

	timerEngine.Register(timer.WorkerGroup{
		Name:         "sla-warning",
		JobType:      model.TimerJobWarning,
		Concurrency:  cfg.SLATimerConcurrency,
		PollInterval: poll,
		Handler:      esc.HandleWarningFired,
	})
	timerEngine.Register(timer.WorkerGroup{
		Name:         "sla-breach",
		JobType:      model.TimerJobBreach,
		Concurrency:  cfg.SLATimerConcurrency,
		PollInterval: poll,
		Handler:      esc.HandleBreachFired,
	})
	timerEngine.Register(timer.WorkerGroup{
		Name:         "sla-escalation",
		JobType:      model.TimerJobEscalation,
		Concurrency:  cfg.AlertDeliveryConcurrency,
		PollInterval: poll,
		RateLimiter:  rate.NewLimiter(rate.Limit(cfg.AlertDeliveryRateLimit), 1),
		Handler:      esc.HandleEscalationFired,
	})
}

func serveMetrics(ctx context.Context, addr string, exporter *metrics.PrometheusExporter) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func reconcileHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "buhbot-sla"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 28082)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28082, "port of server")
	rootCmd.PersistentFlags().String("driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("buhbot")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(cfg *config.Config) {
	fmt.Printf("buhbot-sla %s started successfully!\n", cfg.Version)
	fmt.Printf("Mode: %s\n", cfg.Mode)
	fmt.Printf("Database driver: %s\n", cfg.Driver)
	fmt.Printf("Metrics: http://localhost%s/metrics\n", cfg.MetricsAddr)
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
