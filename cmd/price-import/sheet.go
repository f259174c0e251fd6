package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/distributor-api/internal/domain/listing"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
)

var sheetColumns = []string{
	"price_id",
	"product_name",
	"price",
	"price_type",
	"package_quantity",
	"remaining_quantity",
}

// priceRow is one parsed sheet row.
type priceRow struct {
	Sheet           string
	Line            int
	PriceID         int64
	Product         string
	Price           decimal.Decimal
	Type            listing.Type
	PackageQuantity int
	Remaining       int
}

func (r priceRow) listing(productID int64) listing.Listing {
	return listing.Listing{
		ProductID:       productID,
		Price:           r.Price,
		Type:            r.Type,
		PackageQuantity: r.PackageQuantity,
		Remaining:       r.Remaining,
	}
}

type importPlan struct {
	replace    []priceRow
	create     []priceRow
	duplicates []int64
}

// streamSheet decodes a gzip CSV sheet and calls fn for every data row.
func streamSheet(ctx context.Context, path string, fn func(row priceRow) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.ReuseRecord = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return errors.Wrapf(err, "read header of %s", path)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return errors.Wrap(err, path)
	}

	sheet := filepath.Base(path)
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "%s line %d", sheet, line)
		}
		row, err := parseRow(rec, idx)
		if err != nil {
			return errors.Wrapf(err, "%s line %d", sheet, line)
		}
		row.Sheet = sheet
		row.Line = line
		if err := fn(row); err != nil {
			return err
		}
	}
}

// columnIndex maps every required column to its position in header.
func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range sheetColumns {
		if _, ok := idx[c]; !ok {
			return nil, errors.Errorf("missing column %q", c)
		}
	}
	return idx, nil
}

func parseRow(rec []string, idx map[string]int) (priceRow, error) {
	field := func(name string) string {
		if i := idx[name]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var (
		row priceRow
		err error
	)
	if v := field("price_id"); v != "" {
		if row.PriceID, err = strconv.ParseInt(v, 10, 64); err != nil || row.PriceID <= 0 {
			return row, errors.Errorf("invalid price_id %q", v)
		}
	}
	row.Product = field("product_name")
	if row.PriceID == 0 && row.Product == "" {
		return row, errors.New("product_name is required for new prices")
	}
	if row.Price, err = decimal.NewFromString(field("price")); err != nil || row.Price.IsNegative() {
		return row, errors.Errorf("invalid price %q", field("price"))
	}
	row.Type = listing.Type(field("price_type"))
	if !row.Type.Valid() {
		return row, errors.Errorf("invalid price_type %q", row.Type)
	}
	row.PackageQuantity = 1
	if v := field("package_quantity"); v != "" {
		if row.PackageQuantity, err = strconv.Atoi(v); err != nil || row.PackageQuantity <= 0 {
			return row, errors.Errorf("invalid package_quantity %q", v)
		}
	}
	if row.Remaining, err = strconv.Atoi(field("remaining_quantity")); err != nil || row.Remaining < 0 {
		return row, errors.Errorf("invalid remaining_quantity %q", field("remaining_quantity"))
	}
	return row, nil
}

func priceKey(id int64) []byte {
	return strconv.AppendInt(nil, id, 10)
}

// buildFilters indexes the price ids of every sheet concurrently.
func buildFilters(ctx context.Context, sheets []string, expectedRows uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(sheets))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range sheets {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(expectedRows, bloomFPR)
			var count int
			err := streamSheet(ctx, path, func(row priceRow) error {
				if row.PriceID != 0 {
					filter.Add(priceKey(row.PriceID))
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("sheet", filepath.Base(path)), slog.Int("rows", count))
				}
				return nil
			})
			if err != nil {
				return err
			}
			slog.Info("pass 1 complete", slog.String("sheet", filepath.Base(path)), slog.Int("rows", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// collectRows parses every sheet and drops rows whose price_id occurs in more
// than one sheet. Within a sheet a later row for the same price_id wins.
func collectRows(ctx context.Context, sheets []string, filters []*bloom.BloomFilter) (*importPlan, error) {
	type sheetRows struct {
		rows       []priceRow
		candidates map[int64]uint
	}
	results := make([]sheetRows, len(sheets))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range sheets {
		g.Go(func() error {
			res := sheetRows{candidates: map[int64]uint{}}
			seen := map[int64]int{}
			bit := uint(1) << uint(i)

			err := streamSheet(ctx, path, func(row priceRow) error {
				if row.PriceID == 0 {
					res.rows = append(res.rows, row)
					return nil
				}
				if at, ok := seen[row.PriceID]; ok {
					res.rows[at] = row
					return nil
				}
				seen[row.PriceID] = len(res.rows)
				res.rows = append(res.rows, row)

				key := priceKey(row.PriceID)
				for j, f := range filters {
					if j != i && f.Test(key) {
						res.candidates[row.PriceID] |= bit
						break
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A bloom false positive marks an id in one sheet only; a real
	// duplicate is marked by every sheet containing it.
	merged := map[int64]uint{}
	for _, r := range results {
		for id, mask := range r.candidates {
			merged[id] |= mask
		}
	}
	dup := map[int64]bool{}
	plan := &importPlan{}
	for id, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			dup[id] = true
			plan.duplicates = append(plan.duplicates, id)
		}
	}
	slices.Sort(plan.duplicates)
	for _, id := range plan.duplicates {
		slog.Warn("price_id present in several sheets, skipping", slog.Int64("price_id", id))
	}

	for _, r := range results {
		for _, row := range r.rows {
			switch {
			case row.PriceID == 0:
				plan.create = append(plan.create, row)
			case !dup[row.PriceID]:
				plan.replace = append(plan.replace, row)
			}
		}
	}
	return plan, nil
}
