package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/distributor-api/internal/domain/auth"
	"github.com/xenking/distributor-api/internal/domain/discount"
	"github.com/xenking/distributor-api/internal/domain/listing"
	"github.com/xenking/distributor-api/internal/storage/postgres"
	"github.com/xenking/distributor-api/internal/token"
)

const dateLayout = "2006-01-02"

type catalogJSON struct {
	Users []struct {
		Username string `json:"username"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	} `json:"users"`
	Shops []struct {
		Name      string  `json:"name"`
		Address   string  `json:"address"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"shops"`
	Products []struct {
		Name   string `json:"name"`
		Prices []struct {
			Key             string          `json:"key"`
			Price           decimal.Decimal `json:"price"`
			Type            string          `json:"type"`
			PackageQuantity int             `json:"package_quantity"`
			Remaining       int             `json:"remaining"`
		} `json:"prices"`
	} `json:"products"`
	Discounts []struct {
		Name        string          `json:"name"`
		Type        string          `json:"type"`
		Value       decimal.Decimal `json:"value"`
		StartDate   string          `json:"start_date"`
		EndDate     string          `json:"end_date"`
		MinQuantity *int            `json:"min_quantity"`
		MaxQuantity *int            `json:"max_quantity"`
		Conditions  string          `json:"conditions"`
		Prices      []string        `json:"prices"`
	} `json:"discounts"`
}

type seeded struct {
	users map[string]auth.Principal
}

func main() {
	_ = godotenv.Load()

	var (
		databaseURL string
		catalogFile string
		secret      string
		tokenTTL    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&secret, "auth-secret", "", "token signing secret (or DIST_AUTH_SECRET / JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of the printed access tokens")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	for _, env := range []string{"DIST_AUTH_SECRET", "JWT_SECRET"} {
		if secret == "" {
			secret = os.Getenv(env)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	res, err := run(ctx, databaseURL, catalogFile)
	if err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")

	if secret == "" {
		slog.Warn("no auth secret given, skipping access tokens")
		return
	}
	issuer := token.NewJWT([]byte(secret))
	for username, p := range res.users {
		tok, err := issuer.Issue(p, tokenTTL)
		if err != nil {
			slog.Error("issue token", slog.String("username", username), slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("access token",
			slog.String("username", username),
			slog.String("role", string(p.Role)),
			slog.String("token", tok),
		)
	}
}

func run(ctx context.Context, databaseURL, catalogFile string) (*seeded, error) {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolConfig{})
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	var (
		catalogRepo  = postgres.NewCatalogRepository(pool)
		ledgerRepo   = postgres.NewLedgerRepository(pool)
		discountRepo = postgres.NewDiscountRepository(pool)
		tx           = postgres.NewTxManager(pool, 0)
		res          = &seeded{users: map[string]auth.Principal{}}
	)

	err = tx.WithTx(ctx, func(ctx context.Context) error {
		if err := seedUsers(ctx, catalogRepo, catalog, res); err != nil {
			return errors.Wrap(err, "seed users")
		}

		n, err := catalogRepo.CountProducts(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("catalog already seeded, skipping shops, prices and discounts", slog.Int64("products", n))
			return nil
		}

		if err := seedShops(ctx, catalogRepo, catalog); err != nil {
			return errors.Wrap(err, "seed shops")
		}
		listings, err := seedListings(ctx, catalogRepo, ledgerRepo, catalog)
		if err != nil {
			return errors.Wrap(err, "seed prices")
		}
		if err := seedDiscounts(ctx, discountRepo, catalog, listings); err != nil {
			return errors.Wrap(err, "seed discounts")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func seedUsers(ctx context.Context, repo *postgres.CatalogRepository, catalog catalogJSON, res *seeded) error {
	roles := map[auth.Role]int64{}
	for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleDistributor} {
		id, err := repo.EnsureRole(ctx, role)
		if err != nil {
			return err
		}
		roles[role] = id
	}

	for _, u := range catalog.Users {
		role := auth.Role(u.Role)
		roleID, ok := roles[role]
		if !ok {
			return errors.Errorf("user %s: unknown role %q", u.Username, u.Role)
		}
		id, err := repo.EnsureUser(ctx, u.Username, u.FullName, roleID)
		if err != nil {
			return err
		}
		res.users[u.Username] = auth.Principal{UserID: id, Role: role}

		slog.Info("upserted user", slog.String("username", u.Username), slog.Int64("id", id))
	}
	return nil
}

func seedShops(ctx context.Context, repo *postgres.CatalogRepository, catalog catalogJSON) error {
	for _, s := range catalog.Shops {
		shop := postgres.Shop{Name: s.Name, Address: s.Address, Latitude: s.Latitude, Longitude: s.Longitude}
		if err := repo.CreateShop(ctx, &shop); err != nil {
			return err
		}
		slog.Info("created shop", slog.String("name", shop.Name), slog.Int64("id", shop.ID))
	}
	return nil
}

// seedListings creates products and their price listings and returns listing
// ids by catalog key.
func seedListings(ctx context.Context, catalogRepo *postgres.CatalogRepository, ledger *postgres.LedgerRepository, catalog catalogJSON) (map[string]int64, error) {
	ids := map[string]int64{}
	for _, p := range catalog.Products {
		productID, err := catalogRepo.EnsureProduct(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		for _, pr := range p.Prices {
			l := listing.Listing{
				ProductID:       productID,
				Price:           pr.Price,
				Type:            listing.Type(pr.Type),
				PackageQuantity: pr.PackageQuantity,
				Remaining:       pr.Remaining,
			}
			if !l.Type.Valid() {
				return nil, errors.Errorf("price %s: unknown type %q", pr.Key, pr.Type)
			}
			if l.PackageQuantity == 0 {
				l.PackageQuantity = 1
			}
			if err := ledger.Create(ctx, &l); err != nil {
				return nil, err
			}
			ids[pr.Key] = l.ID

			slog.Info("created price",
				slog.String("product", p.Name),
				slog.String("key", pr.Key),
				slog.Int64("price_id", l.ID),
				slog.String("price", l.Price.StringFixed(2)),
				slog.Int("remaining", l.Remaining),
			)
		}
	}
	return ids, nil
}

func seedDiscounts(ctx context.Context, repo *postgres.DiscountRepository, catalog catalogJSON, listings map[string]int64) error {
	for _, d := range catalog.Discounts {
		start, err := time.Parse(dateLayout, d.StartDate)
		if err != nil {
			return errors.Wrapf(err, "discount %s start date", d.Name)
		}
		end, err := time.Parse(dateLayout, d.EndDate)
		if err != nil {
			return errors.Wrapf(err, "discount %s end date", d.Name)
		}

		rec := discount.Discount{
			Name:        d.Name,
			Type:        discount.Type(d.Type),
			Value:       d.Value,
			StartDate:   start,
			EndDate:     end,
			MinQuantity: d.MinQuantity,
			MaxQuantity: d.MaxQuantity,
			Conditions:  d.Conditions,
		}
		if err := repo.Create(ctx, &rec); err != nil {
			return err
		}
		for _, key := range d.Prices {
			listingID, ok := listings[key]
			if !ok {
				return errors.Errorf("discount %s: unknown price key %q", d.Name, key)
			}
			if err := repo.Attach(ctx, rec.ID, listingID); err != nil {
				return err
			}
		}

		slog.Info("created discount",
			slog.String("name", rec.Name),
			slog.Int64("id", rec.ID),
			slog.Int("prices", len(d.Prices)),
		)
	}
	return nil
}
