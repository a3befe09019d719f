package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krshsl/mockmate/repository"
	"github.com/krshsl/mockmate/services"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mockmate",
	Short: "AI mock interview backend",
	Long: `mockmate runs structured mock interviews: it researches the company,
confirms the role, asks a fixed number of AI generated questions and
produces a scored evaluation report.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Migrate, seed and start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed prompt templates and the admin user, then exit",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func mustLoadConfig() *services.Config {
	cfg := services.LoadConfig()
	initLogger(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("Config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *services.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func setupDI(cfg *services.Config) do.Injector {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	services.RegisterDI(injector)
	return injector
}

func migrate(injector do.Injector) error {
	repo, err := do.Invoke[*repository.GORMRepository](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve repository: %w", err)
	}
	if err := repo.AutoMigrate(); err != nil {
		return err
	}
	slog.Info("Database migrated")
	return nil
}

func seed(ctx context.Context, injector do.Injector) error {
	seeder, err := do.Invoke[*services.DatabaseSeeder](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve seeder: %w", err)
	}
	return seeder.SeedDatabase(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	injector := setupDI(cfg)

	if err := migrate(injector); err != nil {
		slog.Error("Migration failed", "error", err)
		return err
	}
	if cfg.Database.Seed {
		if err := seed(cmd.Context(), injector); err != nil {
			slog.Error("Seeding failed", "error", err)
			return err
		}
	}

	server, err := do.Invoke[*services.Server](injector)
	if err != nil {
		slog.Error("Failed to build server", "error", err)
		return err
	}
	if pool, _ := do.Invoke[*pgxpool.Pool](injector); pool != nil {
		defer pool.Close()
	}
	return server.Start()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	return migrate(setupDI(cfg))
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	injector := setupDI(cfg)
	if err := migrate(injector); err != nil {
		return err
	}
	return seed(cmd.Context(), injector)
}
