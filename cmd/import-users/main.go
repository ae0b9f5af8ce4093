package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/legacy"
	"github.com/Wilsonc7/mp-notifier/internal/bootstrap"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/config"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/logger"
)

func main() {
	path := flag.String("file", "data/users.json", "Path of the legacy user registry")
	dryRun := flag.Bool("dry-run", false, "Validate the registry without writing tenants")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogRedactFields)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(*path)
	if err != nil {
		log.Error("failed to open registry", "path", *path, "error", err)
		os.Exit(1)
	}
	reg, err := legacy.ReadRegistry(f)
	f.Close()
	if err != nil {
		log.Error("failed to read registry", "path", *path, "error", err)
		os.Exit(1)
	}

	st, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer st.DB.Close()

	sealer, err := bootstrap.NewSealer(cfg)
	if err != nil {
		log.Error("failed to create credential sealer", "error", err)
		os.Exit(1)
	}

	importer := legacy.NewImporter(st.Tenants, sealer, log)
	importer.DryRun = *dryRun

	rep, err := importer.Import(ctx, reg)
	if err != nil {
		log.Error("import aborted", "imported", rep.Imported, "error", err)
		os.Exit(1)
	}
	log.Info("import finished",
		"users", len(reg),
		"imported", rep.Imported,
		"skipped", rep.Skipped,
		"hashed_passwords", rep.HashedPasswords,
		"credentials_dropped", rep.CredentialsDropped,
		"dry_run", *dryRun,
	)
}
