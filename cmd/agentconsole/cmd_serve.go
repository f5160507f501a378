package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/agentconsole/internal/config"
	"github.com/user/agentconsole/internal/console"
	"github.com/user/agentconsole/internal/delivery"
	"github.com/user/agentconsole/internal/gateway"
	"github.com/user/agentconsole/internal/httpapi"
	"github.com/user/agentconsole/internal/scheduler"
	"github.com/user/agentconsole/internal/telegram"
	"github.com/user/agentconsole/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentconsole daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	path := pidPath(cfg)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pidFile, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Host.Enabled {
		tier := a.sandbox.Tier(ctx)
		slog.Info("host execution enabled", "tier", string(tier))
	}

	deliveryReg := delivery.NewRegistry()
	gw := gateway.New(a.machine, deliveryReg, int64(cfg.MaxConcurrent))
	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("agentconsole started",
		"data_dir", cfg.DataDir,
		"db", cfg.Database(),
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"agents", a.agents.Names(),
		"default_agent", a.agents.Default(),
		"pid_file", pidFile,
	)

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, cfg.Telegram.AllowedUsers)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		deliveryReg.Register("telegram", adapter.Deliver)
		go adapter.Start(ctx)
		slog.Info("telegram adapter started", "allowed_users", len(cfg.Telegram.AllowedUsers))
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	sched := scheduler.New()
	sweep := scheduler.SweepTask(cfg.Maintenance.SweepSchedule, cfg.StateTTL(), a.machine, func(e console.Expired) {
		if e.ReplyKey == "" {
			return
		}
		if err := gw.Notify(e.ReplyKey, types.Reply{Text: scheduler.ExpiryNotice(e)}); err != nil {
			slog.Warn("expiry notice not delivered", "user_id", string(e.UserID), "error", err)
		}
	})
	if err := sched.Add(sweep); err != nil {
		return fmt.Errorf("schedule state sweep: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	if cfg.HTTP.Enabled {
		var audit httpapi.AuditLog
		if cfg.Host.Enabled {
			audit = a.journal
		}
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.NewServer(a.registry, gw, audit, cfg.HTTP.Token),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http api started", "addr", cfg.HTTP.Addr, "auth", cfg.HTTP.Token != "")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http api error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidFile)
			a.Close()
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				return fmt.Errorf("restart: %w", err)
			}
		}
		slog.Info("shutting down", "signal", sig.String())
		return nil
	}
}
