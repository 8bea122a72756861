// Command migrate manages the database schema and demo data outside the
// server process.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"dharani-backend/internal/database"
	"dharani-backend/internal/models"
	"dharani-backend/internal/services"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var databaseURL string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Dharani database",
	Long: `Apply or roll back the embedded schema migrations and seed demo data.

Available subcommands:
  up     - Apply all pending migrations
  down   - Roll back the most recent migration
  status - Show applied and pending migrations
  seed   - Create demo users and generate bins for demo workers`,
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withDB(func(_ context.Context, db *sqlx.DB, logger *zap.Logger) error {
		return database.Migrate(db, logger)
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: withDB(func(_ context.Context, db *sqlx.DB, logger *zap.Logger) error {
		if err := database.MigrateDown(db); err != nil {
			return err
		}
		logger.Info("✓ [DATABASE] Rolled back one migration")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: withDB(func(_ context.Context, db *sqlx.DB, _ *zap.Logger) error {
		return database.MigrationStatus(db)
	}),
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo users and generate bins for demo workers",
	RunE:  withDB(runSeed),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (defaults to $DATABASE_URL)")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd, seedCmd)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withDB connects before running fn and closes the connection afterwards.
func withDB(fn func(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		url := databaseURL
		if url == "" {
			url = os.Getenv("DATABASE_URL")
		}
		if url == "" {
			return fmt.Errorf("DATABASE_URL environment variable not set")
		}

		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := database.Connect(url, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		return fn(cmd.Context(), db, logger)
	}
}

func runSeed(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	if err := database.Migrate(db, logger); err != nil {
		return err
	}
	store := database.NewStore(db)
	if err := store.SeedUsers(ctx, logger); err != nil {
		return err
	}

	bins := services.NewBinService(store, services.NewBinGenerator(nil), services.NewLocalLocker(), logger)
	for _, demo := range database.DemoUsers {
		if demo.Role != models.RoleWorker {
			continue
		}
		worker, err := store.GetUserByEmail(ctx, demo.Email)
		if err != nil {
			return fmt.Errorf("load demo worker %s: %w", demo.Email, err)
		}
		loc, err := services.WorkerArea(worker)
		if err != nil {
			return err
		}
		generated, err := bins.EnsureAreaBins(ctx, loc)
		if err != nil {
			return fmt.Errorf("generate bins for %s: %w", loc.Area, err)
		}
		logger.Info("✓ [SEED] Area ready", zap.String("area", loc.Area), zap.String("city", loc.City), zap.Int("bins", len(generated)))
	}
	return nil
}
