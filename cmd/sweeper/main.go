package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/app"
	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/service"
	"github.com/noah-isme/substitute-api/pkg/config"
	"github.com/noah-isme/substitute-api/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sweeper",
		Short:        "Escalate substitute requests whose response window lapsed",
		SilenceUsage: true,
	}
	root.AddCommand(newRunOnceCmd(), newWatchCmd(), newTokenCmd())
	return root
}

// withContainer loads config, builds the container and runs fn with workers started.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx := cmd.Context()
	container, err := app.NewContainer(ctx, cfg, logr)
	if err != nil {
		logr.Error("failed to build container", zap.Error(err))
		return err
	}
	defer container.Close()
	container.Start(ctx)

	return fn(ctx, container)
}

func newRunOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Process one batch of lapsed requests and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				result, err := c.Sweeper.RunOnce(ctx)
				if result != nil {
					printResult(cmd, result)
				}
				return err
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sweep on a fixed interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				every := interval
				if every <= 0 {
					every = c.Config.Matching.SweepInterval
				}
				if every <= 0 {
					return fmt.Errorf("watch needs a positive --interval or MATCHING_SWEEP_INTERVAL")
				}
				c.Logger.Info("sweeper watching", zap.Duration("interval", every))
				c.Sweeper.Start(ctx, every)
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between sweeps (defaults to MATCHING_SWEEP_INTERVAL)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development access token with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Env == config.EnvProduction {
				return fmt.Errorf("token signing is disabled in production")
			}
			userRole := models.UserRole(strings.ToUpper(role))
			if !userRole.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := service.NewAuthService(cfg.Auth).IssueToken(userID, userRole, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "school or teacher id")
	cmd.Flags().StringVar(&role, "role", string(models.RoleSchool), "ADMIN, SCHOOL or TEACHER")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printResult(cmd *cobra.Command, result *service.SweepResult) {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Printf("encode sweep result: %v", err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
}
