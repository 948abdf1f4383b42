package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-co-op/gocron-ui/server"
	"github.com/go-co-op/gocron/v2"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/config"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/workflow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var daemonCommand = &cobra.Command{
	Use:     "daemon",
	Short:   "Run convergectl in daemon mode",
	GroupID: "converge",
	Long:    `Runs the configured operations on a cron schedule and serves the scheduler dashboard. A run that is still in progress when the next one is due is rescheduled rather than overlapped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		banner := fmt.Sprintf("convergectl - Daemon Mode \n\nVersion: %s\nBuild Date: %s", ConvergeVersion, ConvergeDate)
		fmt.Println(headerStyle.Render(banner))

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		port, err := dashboardPort(cfg.Daemon.BindAddress)
		if err != nil {
			return err
		}

		dlog := workflow.SetupLogger(cfg.LogLevel, "daemon")

		s, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}

		// Declared first so the task closure can log the next run
		var runJob gocron.Job

		runJob, err = s.NewJob(
			gocron.CronJob(cfg.Daemon.Schedule, false),
			gocron.NewTask(func() {
				// The daemon is not a pipeline task, so no logging commands are written.
				if _, err := workflow.RunConfigured(context.Background(), cfg, dlog, nil); err != nil {
					dlog.Error("Scheduled run finished with failures", "error", err)
				}

				if runJob != nil {
					if nextRun, err := runJob.NextRun(); err == nil {
						dlog.Info("Scheduled run completed",
							"next_run", nextRun.Format(time.RFC3339),
							"job_id", runJob.ID())
					}
				}
			}),
			gocron.WithName("Convergent Operations"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule run: %w", err)
		}

		s.Start()
		dlog.Info("Scheduler started", "operations", len(cfg.Operations))

		if nextRun, err := runJob.NextRun(); err == nil {
			dlog.Info("Job Scheduled",
				"job_name", runJob.Name(),
				"job_id", runJob.ID(),
				"schedule", cfg.Daemon.Schedule,
				"next_run", nextRun.Format(time.RFC3339))
		}

		srv := server.NewServer(s, port, server.WithTitle("convergectl - Dashboard"))
		httpServer := &http.Server{
			Addr:              cfg.Daemon.BindAddress,
			Handler:           srv.Router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			dlog.Info("Scheduler UI started", "address", cfg.Daemon.BindAddress)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		// Block until a signal arrives or the UI server fails
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case <-ctx.Done():
			dlog.Warn("Shutting down scheduler due to system signal...")
		case err := <-serveErr:
			if err != nil {
				dlog.Error("Failed to start UI server", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), s.Shutdown())
	},
}

// dashboardPort extracts the port the dashboard advertises from a host:port address.
func dashboardPort(address string) (int, error) {
	_, p, err := net.SplitHostPort(address)
	if err != nil {
		return 0, fmt.Errorf("invalid bind address %q: %w", address, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("invalid port in bind address %q: %w", address, err)
	}
	return port, nil
}

func init() {
	rootCommand.AddCommand(daemonCommand)
	d := config.Defaults()
	daemonCommand.Flags().String("schedule", d.Daemon.Schedule, "Cron schedule for the configured operations")
	daemonCommand.Flags().String("bind-address", d.Daemon.BindAddress, "Address to bind the UI server")
	bindFlag(daemonCommand, "daemon.schedule", "schedule")
	bindFlag(daemonCommand, "daemon.bind_address", "bind-address")
}
