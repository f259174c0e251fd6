package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/distributor-api/internal/domain/listing"
)

const header = "price_id,product_name,price,price_type,package_quantity,remaining_quantity\n"

func writeSheet(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestParseRow(t *testing.T) {
	idx, err := columnIndex([]string{"price_id", "product_name", "price", "price_type", "package_quantity", "remaining_quantity"})
	require.NoError(t, err)

	row, err := parseRow([]string{"", "Rice 5kg", "11.75", "single_item", "", "60"}, idx)
	require.NoError(t, err)
	assert.Zero(t, row.PriceID)
	assert.Equal(t, "Rice 5kg", row.Product)
	assert.True(t, decimal.RequireFromString("11.75").Equal(row.Price))
	assert.Equal(t, listing.TypeSingleItem, row.Type)
	assert.Equal(t, 1, row.PackageQuantity)
	assert.Equal(t, 60, row.Remaining)

	for name, rec := range map[string][]string{
		"bad id":         {"x", "A", "1", "single_item", "1", "1"},
		"zero id":        {"0", "A", "1", "single_item", "1", "1"},
		"no product":     {"", "", "1", "single_item", "1", "1"},
		"negative price": {"3", "", "-1", "single_item", "1", "1"},
		"unknown type":   {"3", "", "1", "crate", "1", "1"},
		"zero package":   {"3", "", "1", "package", "0", "1"},
		"negative stock": {"3", "", "1", "package", "6", "-2"},
		"missing stock":  {"3", "", "1", "package", "6", ""},
		"truncated":      {"3", "", "1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseRow(rec, idx)
			assert.Error(t, err)
		})
	}
}

func TestColumnIndex_MissingColumn(t *testing.T) {
	_, err := columnIndex([]string{"price_id", "price"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product_name")
}

func TestCollectRows(t *testing.T) {
	dir := t.TempDir()
	sheets := []string{
		writeSheet(t, dir, "a.csv.gz", header+
			"1,,2.00,single_item,1,10\n"+
			"2,,3.00,single_item,1,10\n"+
			"2,,3.50,single_item,1,12\n"+
			",Juice,13.00,package,6,40\n"),
		writeSheet(t, dir, "b.csv.gz", header+
			"2,,4.00,single_item,1,5\n"+
			"3,,1.00,package,12,7\n"),
	}

	ctx := context.Background()
	filters, err := buildFilters(ctx, sheets, 1000)
	require.NoError(t, err)
	plan, err := collectRows(ctx, sheets, filters)
	require.NoError(t, err)

	assert.Equal(t, []int64{2}, plan.duplicates)

	var replaced []int64
	for _, r := range plan.replace {
		replaced = append(replaced, r.PriceID)
	}
	assert.ElementsMatch(t, []int64{1, 3}, replaced)

	require.Len(t, plan.create, 1)
	assert.Equal(t, "Juice", plan.create[0].Product)
	assert.Equal(t, "a.csv.gz", plan.create[0].Sheet)
	assert.Equal(t, 5, plan.create[0].Line)
}

func TestCollectRows_LastRowInSheetWins(t *testing.T) {
	dir := t.TempDir()
	sheets := []string{writeSheet(t, dir, "a.csv.gz", header+
		"7,,1.00,single_item,1,1\n"+
		"7,,2.00,single_item,1,9\n")}

	ctx := context.Background()
	filters, err := buildFilters(ctx, sheets, 100)
	require.NoError(t, err)
	plan, err := collectRows(ctx, sheets, filters)
	require.NoError(t, err)

	require.Len(t, plan.replace, 1)
	assert.Equal(t, 9, plan.replace[0].Remaining)
	assert.Empty(t, plan.duplicates)
}

func TestStreamSheet_ReportsLine(t *testing.T) {
	dir := t.TempDir()
	path := writeSheet(t, dir, "bad.csv.gz", header+"1,,2.00,single_item,1,10\n1,,oops,single_item,1,10\n")

	err := streamSheet(context.Background(), path, func(priceRow) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.csv.gz line 3")
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type fakeCatalog struct{ ids map[string]int64 }

func (c *fakeCatalog) EnsureProduct(_ context.Context, name string) (int64, error) {
	if id, ok := c.ids[name]; ok {
		return id, nil
	}
	id := int64(100 + len(c.ids))
	c.ids[name] = id
	return id, nil
}

type fakeLedger struct {
	listings map[int64]listing.Listing
	nextID   int64
}

func (l *fakeLedger) Get(_ context.Context, id int64) (*listing.Listing, error) {
	v, ok := l.listings[id]
	if !ok {
		return nil, listing.ErrUnavailable
	}
	return &v, nil
}

func (l *fakeLedger) Create(_ context.Context, v *listing.Listing) error {
	l.nextID++
	v.ID = l.nextID
	l.listings[v.ID] = *v
	return nil
}

func (l *fakeLedger) Replace(_ context.Context, v *listing.Listing) error {
	if _, ok := l.listings[v.ID]; !ok {
		return listing.ErrUnavailable
	}
	l.listings[v.ID] = *v
	return nil
}

func TestApply(t *testing.T) {
	ledger := &fakeLedger{
		listings: map[int64]listing.Listing{
			1: {ID: 1, ProductID: 9, Price: decimal.RequireFromString("2"), Type: listing.TypeSingleItem, PackageQuantity: 1, Remaining: 3},
		},
		nextID: 10,
	}
	catalog := &fakeCatalog{ids: map[string]int64{}}
	plan := &importPlan{
		replace: []priceRow{
			{PriceID: 1, Price: decimal.RequireFromString("2.25"), Type: listing.TypeSingleItem, PackageQuantity: 1, Remaining: 50},
			{PriceID: 404, Price: decimal.RequireFromString("1"), Type: listing.TypeSingleItem, PackageQuantity: 1},
		},
		create: []priceRow{
			{Product: "Juice", Price: decimal.RequireFromString("13"), Type: listing.TypePackage, PackageQuantity: 6, Remaining: 40},
			{Product: "Juice", Price: decimal.RequireFromString("2.4"), Type: listing.TypeSingleItem, PackageQuantity: 1, Remaining: 200},
		},
	}

	require.NoError(t, apply(context.Background(), fakeTx{}, catalog, ledger, plan))

	updated := ledger.listings[1]
	assert.Equal(t, int64(9), updated.ProductID, "product is kept on replace")
	assert.Equal(t, 50, updated.Remaining)
	assert.True(t, decimal.RequireFromString("2.25").Equal(updated.Price))

	assert.Len(t, ledger.listings, 3)
	assert.Equal(t, int64(100), ledger.listings[11].ProductID)
	assert.Equal(t, int64(100), ledger.listings[12].ProductID)
	assert.Len(t, catalog.ids, 1)
}

type failingLedger struct{ fakeLedger }

func (failingLedger) Create(context.Context, *listing.Listing) error {
	return errors.New("insert failed")
}

func TestApply_PropagatesErrors(t *testing.T) {
	ledger := &failingLedger{fakeLedger{listings: map[int64]listing.Listing{}}}
	plan := &importPlan{create: []priceRow{{Sheet: "a.csv.gz", Line: 4, Product: "X", Type: listing.TypeSingleItem}}}

	err := apply(context.Background(), fakeTx{}, &fakeCatalog{ids: map[string]int64{}}, ledger, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.csv.gz line 4")
}
