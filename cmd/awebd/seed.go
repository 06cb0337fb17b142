package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awebhq/aweb/internal/bootstrap"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/config"
	"github.com/awebhq/aweb/internal/common/database"
	"github.com/awebhq/aweb/internal/common/logger"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	identityservice "github.com/awebhq/aweb/internal/identity/service"
	"github.com/awebhq/aweb/internal/migrations"
	tenantrepo "github.com/awebhq/aweb/internal/tenant/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

var seedConfigPath string

// seedFixtures are the deterministic development fixtures: one project with
// two agents, so a fresh database is immediately usable for manual testing.
var seedFixtures = []struct {
	slug, name, alias string
}{
	{"org-a", "Org A", "alice"},
	{"org-a", "Org A", "bob"},
}

func newSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert deterministic development fixtures (org-a with alice and bob)",
		RunE:  runSeed,
	}
	cmd.Flags().StringVar(&seedConfigPath, "config", "", "path to a config file (defaults to env-only configuration)")
	return cmd
}

func runSeed(_ *cobra.Command, _ []string) error {
	var cfg *config.Config
	var err error
	if seedConfigPath != "" {
		cfg, err = config.LoadWithPath(seedConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()
	db, err := database.NewDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	sqlxReader, err := database.NewSQLXReader(cfg.Database)
	if err != nil {
		return fmt.Errorf("open sqlx reader pool: %w", err)
	}
	defer sqlxReader.Close()
	if err := applySchema(sqlxReader.DB); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	tenantSvc := tenantservice.New(tenantrepo.NewPostgresRepository(db.Pool()), log)
	identityRepo := identityrepo.NewPostgresRepository(db, db.Pool())
	identitySvc := identityservice.New(identityRepo, tenantSvc, nil, nil, log)
	bootstrapSvc := bootstrap.New(identityRepo, identitySvc, tenantSvc, log)

	for _, f := range seedFixtures {
		result, err := bootstrapSvc.Run(ctx, bootstrap.Input{
			ProjectSlug: f.slug,
			ProjectName: f.name,
			Alias:       f.alias,
		})
		if apperr.IsConflict(err) {
			fmt.Printf("%s/%s\talready seeded\n", f.slug, f.alias)
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s/%s: %w", f.slug, f.alias, err)
		}
		fmt.Printf("%s/%s\tapi_key=%s\n", f.slug, result.Agent.Alias, result.APIKey)
	}
	return nil
}

func applySchema(db *sql.DB) error {
	return migrations.Migrate(db)
}
