// Command flowgate runs the fair-share reverse proxy in front of a single
// LLM inference backend: one FIFO queue per client, round-robin dispatch,
// and a single worker forwarding streamed responses back to their callers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowgate/dispatcher/internal/accesscontrol"
	"github.com/flowgate/dispatcher/internal/admin"
	"github.com/flowgate/dispatcher/internal/auditlog"
	"github.com/flowgate/dispatcher/internal/config"
	"github.com/flowgate/dispatcher/internal/dashboard"
	"github.com/flowgate/dispatcher/internal/dispatch"
	"github.com/flowgate/dispatcher/internal/httpmw"
	"github.com/flowgate/dispatcher/internal/observability"
	"github.com/flowgate/dispatcher/internal/upstream"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "flowgate",
	Short: "Fair-share reverse proxy for a single LLM inference backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadConfigFile(v); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		cfg := config.Load(v)
		return run(cfg)
	},
}

func init() {
	if err := config.Bind(rootCmd, v); err != nil {
		panic(err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cfg config.Config) error {
	logFile, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	blocklist, err := buildBlocklist(cfg)
	if err != nil {
		return fmt.Errorf("access control: %w", err)
	}

	auditLog, closeAudit, err := buildAuditLog(cfg)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	if closeAudit != nil {
		defer closeAudit()
	}

	state := dispatch.NewState()
	client := upstream.New(cfg.OllamaURL, upstream.DefaultTimeout)

	decide := func(user, decision, reason string) {
		auditLog.Record(auditlog.Entry{
			Time:     time.Now(),
			User:     user,
			Decision: decision,
			Reason:   reason,
		})
		switch decision {
		case "PROCESSED":
			observability.ProcessedTotal.WithLabelValues(user).Inc()
		case "DROPPED":
			observability.DroppedTotal.WithLabelValues(user, reason).Inc()
			if reason == "ip_blocked" || reason == "user_blocked" {
				observability.BlockedRequestsTotal.WithLabelValues(reason).Inc()
			}
		}
	}

	worker := dispatch.NewWorker(state, client, dispatch.Config{
		DispatchDelay: cfg.DispatchDelay(),
	}, decide)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)
	go reportQueueDepth(ctx, state)

	mux := http.NewServeMux()
	registerRoutes(mux, state, blocklist, cfg, decide, ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: httpmw.CORS(mux),
	}

	printBanner(cfg)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("flowgate: shutdown error: %v", err)
		}
	}

	return nil
}

func registerRoutes(mux *http.ServeMux, state *dispatch.State, blocklist accesscontrol.Store, cfg config.Config, decide func(user, decision, reason string), ctx context.Context) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	ingress := dispatch.NewHandler(state, blocklist, cfg.BodyLimitBytes(), decide)
	for _, path := range []string{"/api/generate", "/api/chat", "/v1/chat/completions", "/v1/completions"} {
		mux.HandleFunc(path, ingress.ForPath(path))
	}

	mux.Handle("/metrics", promhttp.Handler())

	adminHandler := admin.NewHandler(blocklist)
	mux.HandleFunc("/admin/block", adminHandler.Block)
	mux.HandleFunc("/admin/unblock", adminHandler.Unblock)
	mux.HandleFunc("/admin/blocklist", adminHandler.List)

	if cfg.Dashboard {
		hub := dashboard.NewHub(state.Snapshot)
		go hub.Run(ctx)
		mux.HandleFunc("/dashboard", dashboard.SnapshotHandler(state.Snapshot))
		mux.HandleFunc("/dashboard/ws", dashboard.WebSocketHandler(hub))
	}
}

func buildBlocklist(cfg config.Config) (accesscontrol.Store, error) {
	switch cfg.BlocklistBackend {
	case "redis":
		return accesscontrol.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "file", "":
		return accesscontrol.NewFileStore(cfg.BlocklistPath), nil
	default:
		return nil, fmt.Errorf("unknown blocklist backend %q", cfg.BlocklistBackend)
	}
}

func buildAuditLog(cfg config.Config) (auditlog.Log, func(), error) {
	memory := auditlog.NewMemoryLog(auditlog.DefaultCapacity)
	if cfg.AuditDSN == "" {
		return memory, nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := auditlog.NewPostgresLog(ctx, cfg.AuditDSN)
	if err != nil {
		return nil, nil, err
	}

	return auditlog.NewTee(memory, pg), pg.Close, nil
}

func setupLogging(cfg config.Config) (*os.File, error) {
	if cfg.NoFileLog {
		log.SetOutput(os.Stderr)
		return nil, nil
	}

	f, err := os.OpenFile("flowgate.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return f, nil
}

func reportQueueDepth(ctx context.Context, state *dispatch.State) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := state.Snapshot()
			observability.ActiveUsers.Set(float64(countActive(snap)))
			for _, u := range snap.Users {
				observability.QueueDepth.WithLabelValues(u.User).Set(float64(u.QueueLength))
			}
		}
	}
}

func countActive(snap dispatch.Snapshot) int {
	active := 0
	for _, u := range snap.Users {
		if u.QueueLength > 0 {
			active++
		}
	}
	return active
}

func printBanner(cfg config.Config) {
	fmt.Println("==================================================")
	fmt.Println("FlowGate fair-share dispatcher")
	fmt.Println("==================================================")
	fmt.Printf("Listening on:      :%d\n", cfg.Port)
	fmt.Printf("Upstream:          %s\n", cfg.OllamaURL)
	fmt.Printf("Body limit:        %d MB\n", cfg.BodyLimitMB)
	fmt.Printf("Dispatch delay:    %v\n", cfg.DispatchDelay())
	fmt.Printf("Blocklist backend: %s\n", cfg.BlocklistBackend)
	fmt.Printf("Dashboard:         %v\n", cfg.Dashboard)
	fmt.Println("==================================================")
}
