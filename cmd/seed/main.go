// Command seed loads the reference vocabularies and, optionally, bioregion
// boundaries without going through the full austarch CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/austarch/austarch-db/internal/config"
	"github.com/austarch/austarch-db/internal/db"
	"github.com/austarch/austarch-db/internal/logger"
	"github.com/austarch/austarch-db/internal/seeds"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// CLI flags
var (
	dsn        = flag.String("dsn", "", "Postgres DSN (default: DATABASE_URL or AUSTARCH_DB_*)")
	bioregions = flag.String("bioregions", "", "Optional CSV of bioregion boundaries (code,name,state,wkt)")
	migrate    = flag.Bool("migrate", false, "Apply schema migrations before seeding")
	dryRun     = flag.Bool("dry-run", false, "Parse the bioregion file only; no DB writes")
	timeout    = flag.Duration("timeout", 5*time.Minute, "Overall time limit")
)

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()

	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if *dsn != "" {
		cfg.Database.URL = *dsn
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fatalf("logger: %v", err)
	}

	err = run(cfg, log)
	_ = log.Sync()
	if err != nil {
		fatalf("%v", err)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	var rows []seeds.BioregionRow
	if *bioregions != "" {
		f, err := os.Open(*bioregions)
		if err != nil {
			return fmt.Errorf("open %s: %w", *bioregions, err)
		}
		rows, err = seeds.ReadBioregions(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("bioregion file error: %w", err)
		}
		log.Info("Parsed bioregion file", zap.String("path", *bioregions), zap.Int("rows", len(rows)))
	}
	if *dryRun {
		fmt.Printf("Dry run OK: %d methods, %d materials, %d bioregions\n",
			len(seeds.Methods()), len(seeds.Materials()), len(rows))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *migrate {
		if err := db.Migrate(cfg.Database.DSN(), log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	gdb, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	if err := seeds.SeedAll(ctx, gdb, log); err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	if len(rows) > 0 {
		if _, err := seeds.SeedBioregions(ctx, gdb, rows, log); err != nil {
			return fmt.Errorf("seeding bioregions failed: %w", err)
		}
	}
	return nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
