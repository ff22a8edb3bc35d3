package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pactwatch/internal/alert"
	"github.com/ppiankov/pactwatch/internal/api"
	"github.com/ppiankov/pactwatch/internal/audit"
	"github.com/ppiankov/pactwatch/internal/config"
	"github.com/ppiankov/pactwatch/internal/engine"
	"github.com/ppiankov/pactwatch/internal/events"
	"github.com/ppiankov/pactwatch/internal/server"
	"github.com/ppiankov/pactwatch/internal/store/backend"
)

var (
	serveConfig   string
	servePort     int
	serveHTTPAddr string
	serveAuditLog string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "Path to config YAML (default ~/.pactwatch/config.yaml)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gRPC listen port (overrides grpc.port)")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "Read API listen address (overrides http.addr)")
	serveCmd.Flags().StringVar(&serveAuditLog, "audit-log", "", "Path to audit log JSONL file (overrides audit_log)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pactwatch protocol server",
	Long: "Serves the protocol over gRPC, the read API and event stream over HTTP,\n" +
		"and sends matching events to configured webhooks. Delegation options and\n" +
		"webhooks are reloaded when the config file changes.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	path := serveConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, hash, err := config.LoadWithHash(path)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.GRPC.Port = servePort
	}
	if serveHTTPAddr != "" {
		cfg.HTTP.Addr = serveHTTPAddr
	}
	if serveAuditLog != "" {
		cfg.AuditLog = serveAuditLog
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	defer st.Close()

	engCfg := engine.Config{Delegation: cfg.Delegation, ConfigHash: hash}
	if cfg.AuditLog != "" {
		log, err := audit.Open(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer log.Close()
		engCfg.Auditor = log
	}

	bus := events.NewBus()
	engCfg.Publisher = bus
	eng := engine.New(st, engCfg)

	dispatcher := alert.NewDispatcher(cfg.Webhooks)
	alerts, unsubscribe := bus.Subscribe(1024)
	defer unsubscribe()
	go dispatcher.Run(ctx, alerts)
	defer dispatcher.Wait()

	srv := server.New(server.Config{Port: cfg.GRPC.Port, ConfigPath: path, RateLimits: cfg.RateLimits}, eng, dispatcher)

	reloader, err := server.NewReloader(srv, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		go reloader.Run(ctx)
	}

	var httpSrv *http.Server
	if cfg.HTTP.Addr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.New(eng, bus),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "pactwatch: http: %v\n", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down pactwatch server...")
		cancel()
		if httpSrv != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpSrv.Shutdown(shutdownCtx)
			done()
		}
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "pactwatch server listening on :%d (%s store)\n", cfg.GRPC.Port, cfg.Store.Backend)
	if httpSrv != nil {
		fmt.Fprintf(os.Stderr, "Read API: http://%s\n", cfg.HTTP.Addr)
	}
	if cfg.AuditLog != "" {
		fmt.Fprintf(os.Stderr, "Audit log: %s\n", cfg.AuditLog)
	}
	if reloader != nil {
		fmt.Fprintf(os.Stderr, "Config: %s (hot-reload enabled)\n", reloader.Path())
	}
	fmt.Fprintln(os.Stderr)

	return srv.Serve()
}
