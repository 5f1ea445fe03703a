package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/app"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/config"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/database"
	"github.com/machgiahao/prn222-grading-system-sub001/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			direction, args := "up", []string(nil)
			if len(os.Args) > 2 {
				direction, args = os.Args[2], os.Args[3:]
			}
			runMigrations(direction, args)
			return
		case "worker":
			run(false)
			return
		case "serve":
			run(true)
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q, use serve, worker or migrate up|down|force|version\n", os.Args[1])
			os.Exit(2)
		}
	}

	run(true)
}

func loadConfig() (*config.Config, zerolog.Logger) {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	return cfg, logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.NoColor)
}

func run(serveHTTP bool) {
	cfg, log := loadConfig()

	var db *sql.DB
	if cfg.Database.Enabled {
		var err error
		db, err = database.NewPostgres(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		log.Info().Msg("Database connection established")
	} else {
		log.Warn().Msg("Database disabled, scan runs are not recorded")
	}

	application, err := app.New(cfg, log, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	go func() {
		if err := application.Run(serveHTTP); err != nil {
			log.Fatal().Err(err).Msg("Failed to run application")
		}
	}()

	log.Info().Bool("http", serveHTTP).Msg("Scan service started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown gracefully")
	}
}

func runMigrations(direction string, args []string) {
	cfg, log := loadConfig()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, cfg.Database.MigrationsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer migrator.Close()

	switch direction {
	case "up":
		if err := migrator.Up(); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Migrations applied successfully")
	case "down":
		if err := migrator.Down(); err != nil {
			log.Fatal().Err(err).Msg("Failed to rollback migrations")
		}
		log.Info().Msg("Migrations rolled back successfully")
	case "force":
		if len(args) == 0 {
			log.Fatal().Msg("Usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid migration version")
		}
		if err := migrator.Force(version); err != nil {
			log.Fatal().Err(err).Msg("Failed to force migration version")
		}
		log.Info().Int("version", version).Msg("Migration version forced")
	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read migration version")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current migration version")
	default:
		log.Fatal().Msg("Invalid migration direction. Use 'up', 'down', 'force' or 'version'")
	}
}
