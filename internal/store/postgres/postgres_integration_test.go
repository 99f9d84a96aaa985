package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("DRESSCODE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DRESSCODE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedLine(t *testing.T, s *Store, productID string, qty int) domain.StockLine {
	t.Helper()
	line := domain.StockLine{
		Group:           "TOGS",
		ProductID:       productID,
		Category:        "SCHOOL",
		SchoolName:      "IT",
		ProductCategory: "SHIRT",
		ProductName:     "Formal",
		Gender:          "BOY",
		Pattern:         "PLAIN",
		Color:           domain.Color{Name: "WHITE", Hexcode: "#FFFFFF"},
		Size:            "M",
		Quantity:        qty,
		Price:           decimal.NewFromInt(500),
	}
	if _, err := s.UpsertProductFromLine(context.Background(), line, "ITLEDG", "WAREHOUSE", time.Now().UTC()); err != nil {
		t.Fatalf("upsert product: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = s.db.ExecContext(ctx, `DELETE FROM assigned_history WHERE variant_id IN (SELECT variant_id FROM variants WHERE grp = 'TOGS' AND product_id = $1)`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM store_quantities WHERE variant_id IN (SELECT variant_id FROM variants WHERE grp = 'TOGS' AND product_id = $1)`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM variant_sizes WHERE variant_id IN (SELECT variant_id FROM variants WHERE grp = 'TOGS' AND product_id = $1)`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM variants WHERE grp = 'TOGS' AND product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE grp = 'TOGS' AND product_id = $1`, productID)
	})
	return line
}

func TestUpsertAccumulatesQuantityAndHistory(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := fmt.Sprintf("SCHOOL_IT_UPSERT_%d", time.Now().UnixNano())

	line := seedLine(t, s, productID, 10)
	if _, err := s.UpsertProductFromLine(ctx, line, "ITLED2", "WAREHOUSE", time.Now().UTC()); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	product, err := s.GetProduct(ctx, "TOGS", productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if len(product.Variants) != 1 || len(product.Variants[0].VariantSizes) != 1 {
		t.Fatalf("expected one variant with one size, got %+v", product.Variants)
	}
	size := product.Variants[0].VariantSizes[0]
	if size.Quantity != 20 {
		t.Fatalf("expected quantity 20, got %d", size.Quantity)
	}
	if len(size.QuantityByStores) != 1 || len(size.QuantityByStores[0].AssignedHistory) != 2 {
		t.Fatalf("expected two history entries for warehouse view, got %+v", size.QuantityByStores)
	}
}

func TestConcurrentDecrementNeverOversells(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := fmt.Sprintf("SCHOOL_IT_RACE_%d", time.Now().UnixNano())
	line := seedLine(t, s, productID, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WithinTx(ctx, func(ctx context.Context) error {
				return s.DecrementQuantity(ctx, line.Ref(), 1)
			})
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected one success and one insufficient stock, got %d/%d", succeeded, insufficient)
	}

	item, err := s.FindVariantSize(ctx, line.Ref())
	if err != nil {
		t.Fatalf("find size: %v", err)
	}
	if item.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", item.Quantity)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := fmt.Sprintf("SCHOOL_IT_ROLLBACK_%d", time.Now().UnixNano())
	line := seedLine(t, s, productID, 5)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.DecrementQuantity(ctx, line.Ref(), 3); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	item, err := s.FindVariantSize(ctx, line.Ref())
	if err != nil {
		t.Fatalf("find size: %v", err)
	}
	if item.Quantity != 5 {
		t.Fatalf("expected rollback to keep quantity 5, got %d", item.Quantity)
	}
}
