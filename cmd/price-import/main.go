// Command price-import loads supplier price sheets into product_prices.
//
// Each sheet is a gzip-compressed CSV with the header
//
//	price_id,product_name,price,price_type,package_quantity,remaining_quantity
//
// A row with a price_id replaces that listing; a row without one creates a
// new listing for the named product. A price_id that appears in more than one
// sheet is ambiguous and is skipped.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/distributor-api/internal/domain/listing"
	"github.com/xenking/distributor-api/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	var (
		dataDir      string
		pattern      string
		databaseURL  string
		expectedRows uint
		dryRun       bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing price sheets")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "glob for price sheets inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expectedRows, "expected-rows", 1_000_000, "rows per sheet used to size duplicate detection")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and check sheets without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, pattern, databaseURL, expectedRows, dryRun); err != nil {
		slog.Error("price import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("price import completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL string, expectedRows uint, dryRun bool) error {
	sheets, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "list sheets")
	}
	if len(sheets) == 0 {
		return errors.Errorf("no sheets match %s in %s", pattern, dataDir)
	}
	sort.Strings(sheets)

	slog.Info("pass 1: indexing price ids", slog.Int("sheets", len(sheets)))

	filters, err := buildFilters(ctx, sheets, expectedRows)
	if err != nil {
		return errors.Wrap(err, "index sheets")
	}

	slog.Info("pass 2: reading rows")

	plan, err := collectRows(ctx, sheets, filters)
	if err != nil {
		return errors.Wrap(err, "read sheets")
	}

	slog.Info("import plan",
		slog.Int("replace", len(plan.replace)),
		slog.Int("create", len(plan.create)),
		slog.Int("skipped_duplicates", len(plan.duplicates)),
	)
	if dryRun {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolConfig{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return apply(ctx,
		postgres.NewTxManager(pool, 0),
		postgres.NewCatalogRepository(pool),
		postgres.NewLedgerRepository(pool),
		plan,
	)
}

type products interface {
	EnsureProduct(ctx context.Context, name string) (int64, error)
}

type transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// apply writes the plan in one transaction. Replacing a listing that no
// longer exists is logged and skipped.
func apply(ctx context.Context, tx transactor, catalog products, ledger listing.Repository, plan *importPlan) error {
	return tx.WithTx(ctx, func(ctx context.Context) error {
		var missing int
		for _, row := range plan.replace {
			existing, err := ledger.Get(ctx, row.PriceID)
			if errors.Is(err, listing.ErrUnavailable) {
				missing++
				slog.Warn("price not found, skipping", slog.Int64("price_id", row.PriceID), slog.String("sheet", row.Sheet))
				continue
			}
			if err != nil {
				return err
			}
			l := row.listing(existing.ProductID)
			l.ID = row.PriceID
			if err := ledger.Replace(ctx, &l); err != nil {
				return errors.Wrapf(err, "%s line %d", row.Sheet, row.Line)
			}
		}

		productIDs := map[string]int64{}
		for _, row := range plan.create {
			productID, ok := productIDs[row.Product]
			if !ok {
				id, err := catalog.EnsureProduct(ctx, row.Product)
				if err != nil {
					return err
				}
				productID = id
				productIDs[row.Product] = id
			}
			l := row.listing(productID)
			if err := ledger.Create(ctx, &l); err != nil {
				return errors.Wrapf(err, "%s line %d", row.Sheet, row.Line)
			}
		}

		slog.Info("prices written",
			slog.Int("replaced", len(plan.replace)-missing),
			slog.Int("created", len(plan.create)),
			slog.Int("missing", missing),
		)
		return nil
	})
}
