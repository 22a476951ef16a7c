package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/db"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"github.com/angelmondragon/boletos-backend/pkg/migrate"
)

const serviceName = "migrate"

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|redo|version|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory on disk (default: migrations embedded in the binary)")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate work on files only and need no configuration.
	if msg, handled, err := runOffline(opts); handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
			os.Exit(1)
		}
		fmt.Println(msg)
		return
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Environment: cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithField(context.Background(), "cmd", opts.cmd)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	if err := runOnline(ctx, logg, dbClient, opts); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration finished")
}

func runOffline(opts options) (string, bool, error) {
	dir := opts.dir
	if dir == "" {
		dir = migrate.DefaultDir
	}
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return "", true, fmt.Errorf("missing -name")
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name)
		return "created migration: " + path, true, err
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			return "", true, err
		}
		if err := migrate.ValidateEmbedded(); err != nil {
			return "", true, fmt.Errorf("embedded: %w", err)
		}
		return "migration validation passed", true, nil
	default:
		return "", false, nil
	}
}

func runOnline(ctx context.Context, logg *logger.Logger, client *db.Client, opts options) error {
	if client.Dialect() == db.DriverSQLite {
		if opts.cmd != string(migrate.CommandUp) {
			return fmt.Errorf("sqlite databases only support -cmd=up")
		}
		logg.Info(ctx, "migrating sqlite schema from models")
		return migrate.AutoMigrateModels(client)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, opts.dir)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "source", runner.Source()), "migrate ready")

	if opts.cmd == "version" {
		if opts.version == "" {
			return fmt.Errorf("missing -version")
		}
		return runner.To(ctx, opts.version)
	}
	cmd, err := migrate.ParseCommand(opts.cmd)
	if err != nil {
		return err
	}
	return runner.Run(ctx, cmd)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
