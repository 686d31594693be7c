package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	convctx "github.com/user/warroom/internal/context"
	"github.com/user/warroom/internal/control"
	"github.com/user/warroom/internal/memindex"
	"github.com/user/warroom/internal/notify"
	"github.com/user/warroom/internal/policy"
	"github.com/user/warroom/internal/router"
	"github.com/user/warroom/internal/server"
	"github.com/user/warroom/internal/state"
	"github.com/user/warroom/internal/toolcall"
	"github.com/user/warroom/internal/tools"
	"github.com/user/warroom/internal/watchdog"
	"github.com/user/warroom/pkg/llm"
	"github.com/user/warroom/pkg/llm/anthropic"
	"github.com/user/warroom/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the warroom daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "warroom.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	sessions := state.NewSessionStore(cfg.DataDir)
	messages := state.NewMessageStore(cfg.DataDir)
	thoughts := state.NewThoughtStore(cfg.DataDir)
	checkpoints := state.NewCheckpointStore(cfg.DataDir)
	attachments := state.NewAttachmentStore(cfg.DataDir)

	// Memory index
	memory, err := memindex.Open(filepath.Join(cfg.DataDir, "memory.db"))
	if err != nil {
		return fmt.Errorf("open memory index: %w", err)
	}
	defer memory.Close()

	// Tool engine. plane is declared up front so the health tool can see
	// live turn counts once it exists.
	var plane *control.Plane
	engine := toolcall.NewEngine(slog.Default())
	engine.Register(tools.NewReadFile(cfg.Workspace))
	engine.Register(tools.NewListDir(cfg.Workspace))
	engine.Register(tools.NewSearchCode(cfg.Workspace))
	engine.Register(tools.NewTerminal(cfg.Workspace, cfg.Terminal.DeniedPatterns))
	engine.Register(tools.NewDBQuery(memory.DB()))
	engine.Register(tools.NewDBSchema(memory.DB()))
	engine.Register(tools.NewProjectStats(memory.DB()))
	engine.Register(tools.NewMemorySearch(memory))
	engine.Register(tools.NewIdentity())
	engine.Register(tools.NewSystemHealth(func() int {
		if plane == nil {
			return 0
		}
		return plane.Active()
	}))
	if cfg.VPS.Addr != "" {
		engine.Register(tools.NewVPS(cfg.VPS.Addr, cfg.VPS.User, cfg.VPS.KeyFile))
	} else {
		slog.Warn("vps tool disabled (no address configured)")
	}

	// Model backends
	providers := map[string]llm.Provider{}
	if cfg.OpenAI.APIKey != "" {
		providers["openai"] = openai.New(&llm.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKey:      cfg.OpenAI.APIKey,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		})
	}
	if cfg.Anthropic.APIKey != "" {
		providers["anthropic"] = anthropic.New(&llm.Config{
			BaseURL:   cfg.Anthropic.BaseURL,
			APIKey:    cfg.Anthropic.APIKey,
			MaxTokens: cfg.Anthropic.MaxTokens,
		})
	}
	if len(providers) == 0 {
		return fmt.Errorf("no model backends configured (set OPENAI_API_KEY or ANTHROPIC_API_KEY)")
	}

	// Context engine
	prompts, err := convctx.New(router.DefaultPriority[0], cfg.Context.MaxTokens, cfg.Context.OutputReserve, memory, attachments)
	if err != nil {
		return fmt.Errorf("create context engine: %w", err)
	}

	// Operator notifier
	notifier, err := notify.New(cfg.Telegram.Token, cfg.Telegram.ChatID, slog.Default())
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	if notifier == nil {
		slog.Warn("operator alerts disabled (no telegram token)")
	}

	// Control plane
	plane = control.New(control.Config{
		Sessions:      sessions,
		Messages:      messages,
		Thoughts:      thoughts,
		Checkpoints:   checkpoints,
		Router:        router.New(providers, engine, slog.Default()),
		Prompts:       prompts,
		Tools:         engine,
		Filter:        policy.New(engine, slog.Default()),
		Notifier:      notifier,
		Logger:        slog.Default(),
		MaxConcurrent: cfg.MaxConcurrent,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plane.Start(ctx)
	defer plane.Stop()

	// Watchdog
	dog := watchdog.New(sessions, plane, notifier, cfg.Watchdog.Schedule,
		time.Duration(cfg.Watchdog.StallDeadlineMs)*time.Millisecond, slog.Default())
	if err := dog.Start(ctx); err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}
	defer dog.Stop()

	// HTTP API
	api := server.NewServer(plane, sessions, messages, thoughts, checkpoints, cfg.OperatorToken, slog.Default())
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: api}
	go func() {
		slog.Info("api listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
		}
	}()

	slog.Info("warroom started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"backends", len(providers),
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return nil
}
