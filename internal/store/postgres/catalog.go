package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

type productRow struct {
	Group           string          `db:"grp"`
	ProductID       string          `db:"product_id"`
	Category        string          `db:"category"`
	SubCategory     string          `db:"sub_category"`
	SchoolName      string          `db:"school_name"`
	ProductCategory string          `db:"product_category"`
	ProductName     string          `db:"product_name"`
	Gender          string          `db:"gender"`
	Pattern         string          `db:"pattern"`
	Fit             string          `db:"fit"`
	Neckline        string          `db:"neckline"`
	Sleeves         string          `db:"sleeves"`
	Fabric          string          `db:"fabric"`
	Description     string          `db:"description"`
	Price           decimal.Decimal `db:"price"`
	IsDeleted       bool            `db:"is_deleted"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

type variantRow struct {
	VariantID    string `db:"variant_id"`
	Group        string `db:"grp"`
	ProductID    string `db:"product_id"`
	ColorName    string `db:"color_name"`
	ColorHexcode string `db:"color_hexcode"`
	IsDeleted    bool   `db:"is_deleted"`
}

type sizeRow struct {
	VariantID string `db:"variant_id"`
	Size      string `db:"size"`
	Quantity  int    `db:"quantity"`
	StyleCoat string `db:"style_coat"`
	SKU       string `db:"sku"`
}

type storeQtyRow struct {
	VariantID       string `db:"variant_id"`
	Size            string `db:"size"`
	StoreID         string `db:"store_id"`
	PresentQuantity int    `db:"present_quantity"`
}

type historyRow struct {
	VariantID          string    `db:"variant_id"`
	Size               string    `db:"size"`
	StoreID            string    `db:"store_id"`
	LedgerID           string    `db:"ledger_id"`
	QuantityOfAssigned int       `db:"quantity_of_assigned"`
	AssignedAt         time.Time `db:"assigned_at"`
}

const productColumns = `grp, product_id, category, sub_category, school_name, product_category, product_name,
	gender, pattern, fit, neckline, sleeves, fabric, description, price, is_deleted, created_at, updated_at`

func (s *Store) GetProduct(ctx context.Context, group string, productID string) (*domain.Product, error) {
	products, err := s.loadProducts(ctx, group, productID)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, store.ErrNotFound
	}
	return &products[0], nil
}

func (s *Store) ListProducts(ctx context.Context, group string) ([]domain.Product, error) {
	return s.loadProducts(ctx, group, "")
}

// loadProducts assembles products with their variants, sizes and per-store
// views. Empty filters match everything.
func (s *Store) loadProducts(ctx context.Context, group string, productID string) ([]domain.Product, error) {
	q := s.conn(ctx)

	var rows []productRow
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 = '' OR grp = $1) AND ($2 = '' OR product_id = $2)
		ORDER BY grp, product_id
	`, group, productID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.Product{}, nil
	}

	var variants []variantRow
	err = sqlx.SelectContext(ctx, q, &variants, `
		SELECT variant_id, grp, product_id, color_name, color_hexcode, is_deleted
		FROM variants
		WHERE ($1 = '' OR grp = $1) AND ($2 = '' OR product_id = $2)
		ORDER BY seq
	`, group, productID)
	if err != nil {
		return nil, err
	}

	var sizes []sizeRow
	err = sqlx.SelectContext(ctx, q, &sizes, `
		SELECT vs.variant_id, vs.size, vs.quantity, vs.style_coat, vs.sku
		FROM variant_sizes vs
		JOIN variants v ON v.variant_id = vs.variant_id
		WHERE ($1 = '' OR v.grp = $1) AND ($2 = '' OR v.product_id = $2)
		ORDER BY vs.seq
	`, group, productID)
	if err != nil {
		return nil, err
	}

	var views []storeQtyRow
	err = sqlx.SelectContext(ctx, q, &views, `
		SELECT sq.variant_id, sq.size, sq.store_id, sq.present_quantity
		FROM store_quantities sq
		JOIN variants v ON v.variant_id = sq.variant_id
		WHERE ($1 = '' OR v.grp = $1) AND ($2 = '' OR v.product_id = $2)
		ORDER BY sq.seq
	`, group, productID)
	if err != nil {
		return nil, err
	}

	var history []historyRow
	err = sqlx.SelectContext(ctx, q, &history, `
		SELECT h.variant_id, h.size, h.store_id, h.ledger_id, h.quantity_of_assigned, h.assigned_at
		FROM assigned_history h
		JOIN variants v ON v.variant_id = h.variant_id
		WHERE ($1 = '' OR v.grp = $1) AND ($2 = '' OR v.product_id = $2)
		ORDER BY h.seq
	`, group, productID)
	if err != nil {
		return nil, err
	}

	type sizeKey struct{ variantID, size, storeID string }
	historyBy := make(map[sizeKey][]domain.AssignedHistoryEntry, len(history))
	for _, h := range history {
		k := sizeKey{h.VariantID, h.Size, h.StoreID}
		historyBy[k] = append(historyBy[k], domain.AssignedHistoryEntry{
			LedgerID:           h.LedgerID,
			QuantityOfAssigned: h.QuantityOfAssigned,
			AssignedAt:         h.AssignedAt.UTC(),
		})
	}
	viewsBy := make(map[sizeKey][]domain.StoreQuantity, len(views))
	for _, v := range views {
		k := sizeKey{v.VariantID, v.Size, ""}
		viewsBy[k] = append(viewsBy[k], domain.StoreQuantity{
			StoreID:         v.StoreID,
			PresentQuantity: v.PresentQuantity,
			AssignedHistory: historyBy[sizeKey{v.VariantID, v.Size, v.StoreID}],
		})
	}
	sizesBy := make(map[string][]domain.VariantSize, len(sizes))
	for _, sz := range sizes {
		sizesBy[sz.VariantID] = append(sizesBy[sz.VariantID], domain.VariantSize{
			Size:             sz.Size,
			Quantity:         sz.Quantity,
			StyleCoat:        sz.StyleCoat,
			SKU:              sz.SKU,
			QuantityByStores: viewsBy[sizeKey{sz.VariantID, sz.Size, ""}],
		})
	}
	type productKey struct{ group, productID string }
	variantsBy := make(map[productKey][]domain.Variant, len(variants))
	for _, v := range variants {
		k := productKey{v.Group, v.ProductID}
		variantsBy[k] = append(variantsBy[k], domain.Variant{
			VariantID:    v.VariantID,
			Color:        domain.Color{Name: v.ColorName, Hexcode: v.ColorHexcode},
			IsDeleted:    v.IsDeleted,
			VariantSizes: sizesBy[v.VariantID],
		})
	}

	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, domain.Product{
			Group:           r.Group,
			ProductID:       r.ProductID,
			Category:        r.Category,
			SubCategory:     r.SubCategory,
			SchoolName:      r.SchoolName,
			ProductCategory: r.ProductCategory,
			ProductName:     r.ProductName,
			Gender:          r.Gender,
			Pattern:         r.Pattern,
			Fit:             r.Fit,
			Neckline:        r.Neckline,
			Sleeves:         r.Sleeves,
			Fabric:          r.Fabric,
			Description:     r.Description,
			Price:           r.Price,
			IsDeleted:       r.IsDeleted,
			Variants:        variantsBy[productKey{r.Group, r.ProductID}],
			CreatedAt:       r.CreatedAt.UTC(),
			UpdatedAt:       r.UpdatedAt.UTC(),
		})
	}
	return products, nil
}

type stockItemRow struct {
	Group           string          `db:"grp"`
	ProductID       string          `db:"product_id"`
	ProductName     string          `db:"product_name"`
	ProductCategory string          `db:"product_category"`
	Price           decimal.Decimal `db:"price"`
	VariantID       string          `db:"variant_id"`
	ColorName       string          `db:"color_name"`
	ColorHexcode    string          `db:"color_hexcode"`
	Size            string          `db:"size"`
	Quantity        int             `db:"quantity"`
	StyleCoat       string          `db:"style_coat"`
	SKU             string          `db:"sku"`
}

const stockItemQuery = `
	SELECT p.grp, p.product_id, p.product_name, p.product_category, p.price,
		v.variant_id, v.color_name, v.color_hexcode,
		vs.size, vs.quantity, vs.style_coat, vs.sku
	FROM variant_sizes vs
	JOIN variants v ON v.variant_id = vs.variant_id
	JOIN products p ON p.grp = v.grp AND p.product_id = v.product_id
	WHERE v.grp = $1 AND v.product_id = $2
		AND upper(v.color_name) = upper($3) AND upper(vs.size) = upper($4)
		AND NOT p.is_deleted AND NOT v.is_deleted
`

func (s *Store) findStockItem(ctx context.Context, ref domain.SizeRef) (*stockItemRow, error) {
	var row stockItemRow
	if err := sqlx.GetContext(ctx, s.conn(ctx), &row, stockItemQuery, ref.Group, ref.ProductID, ref.Color, ref.Size); err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *Store) FindVariantSize(ctx context.Context, ref domain.SizeRef) (*domain.StockItem, error) {
	row, err := s.findStockItem(ctx, ref)
	if err != nil {
		return nil, err
	}

	var views []storeQtyRow
	err = sqlx.SelectContext(ctx, s.conn(ctx), &views, `
		SELECT variant_id, size, store_id, present_quantity
		FROM store_quantities
		WHERE variant_id = $1 AND size = $2
	`, row.VariantID, row.Size)
	if err != nil {
		return nil, err
	}

	item := &domain.StockItem{
		Group:           row.Group,
		ProductID:       row.ProductID,
		ProductName:     row.ProductName,
		ProductCategory: row.ProductCategory,
		Price:           row.Price,
		VariantID:       row.VariantID,
		Color:           domain.Color{Name: row.ColorName, Hexcode: row.ColorHexcode},
		Size:            row.Size,
		Quantity:        row.Quantity,
		StyleCoat:       row.StyleCoat,
		SKU:             row.SKU,
		StoreQuantities: make(map[string]int, len(views)),
	}
	for _, v := range views {
		item.StoreQuantities[v.StoreID] = v.PresentQuantity
	}
	return item, nil
}

// DecrementQuantity is a single conditional update; a size with too little
// stock is left untouched and reported as ErrInsufficientStock.
func (s *Store) DecrementQuantity(ctx context.Context, ref domain.SizeRef, amount int) error {
	if amount < 1 {
		return store.ErrConflict
	}
	row, err := s.findStockItem(ctx, ref)
	if err != nil {
		return err
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE variant_sizes
		SET quantity = quantity - $3
		WHERE variant_id = $1 AND size = $2 AND quantity >= $3
	`, row.VariantID, row.Size, amount)
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrInsufficientStock
	}
	return s.touchProduct(ctx, ref.Group, ref.ProductID)
}

func (s *Store) IncrementQuantity(ctx context.Context, ref domain.SizeRef, amount int) error {
	if amount < 1 {
		return store.ErrConflict
	}
	row, err := s.findStockItem(ctx, ref)
	if err != nil {
		return err
	}

	if _, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE variant_sizes
		SET quantity = quantity + $3
		WHERE variant_id = $1 AND size = $2
	`, row.VariantID, row.Size, amount); err != nil {
		return err
	}
	return s.touchProduct(ctx, ref.Group, ref.ProductID)
}

func (s *Store) touchProduct(ctx context.Context, group string, productID string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE products SET updated_at = now() WHERE grp = $1 AND product_id = $2
	`, group, productID)
	return err
}

func (s *Store) UpsertProductFromLine(ctx context.Context, line domain.StockLine, ledgerID string, storeID string, at time.Time) (domain.ProductRef, error) {
	if line.Group == "" || line.ProductID == "" || line.Color.Name == "" || line.Size == "" || line.Quantity < 1 {
		return domain.ProductRef{}, store.ErrConflict
	}

	var ref domain.ProductRef
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)

		var created bool
		err := sqlx.GetContext(ctx, q, &created, `
			INSERT INTO products (grp, product_id, category, sub_category, school_name, product_category,
				product_name, gender, pattern, fit, neckline, sleeves, fabric, description, price,
				is_deleted, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,false,$16,$16)
			ON CONFLICT (grp, product_id) DO UPDATE SET
				is_deleted = false,
				price = CASE WHEN EXCLUDED.price <> 0 THEN EXCLUDED.price ELSE products.price END,
				updated_at = EXCLUDED.updated_at
			RETURNING (xmax = 0)
		`, line.Group, line.ProductID, line.Category, line.SubCategory, line.SchoolName, line.ProductCategory,
			line.ProductName, line.Gender, line.Pattern, line.Fit, line.Neckline, line.Sleeves, line.Fabric,
			line.Description, line.Price, at.UTC())
		if err != nil {
			return err
		}

		var variantID string
		err = sqlx.GetContext(ctx, q, &variantID, `
			INSERT INTO variants (variant_id, grp, product_id, color_name, color_hexcode, is_deleted)
			VALUES ($1,$2,$3,$4,$5,false)
			ON CONFLICT (grp, product_id, color_name) DO UPDATE SET
				is_deleted = false,
				color_hexcode = CASE WHEN variants.color_hexcode = '' THEN EXCLUDED.color_hexcode ELSE variants.color_hexcode END
			RETURNING variant_id
		`, uuid.NewString(), line.Group, line.ProductID, line.Color.Name, line.Color.Hexcode)
		if err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO variant_sizes (variant_id, size, quantity, style_coat, sku)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (variant_id, size) DO UPDATE SET quantity = variant_sizes.quantity + EXCLUDED.quantity
		`, variantID, line.Size, line.Quantity, line.StyleCoat, line.SKU); err != nil {
			return err
		}

		if err := addPresent(ctx, q, variantID, line.Size, storeID, ledgerID, line.Quantity, at); err != nil {
			return err
		}

		ref = domain.ProductRef{Group: line.Group, ProductID: line.ProductID, VariantID: variantID, Created: created}
		return nil
	})
	if err != nil {
		return domain.ProductRef{}, err
	}
	return ref, nil
}

func addPresent(ctx context.Context, q sqlx.ExtContext, variantID string, size string, storeID string, ledgerID string, qty int, at time.Time) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO store_quantities (variant_id, size, store_id, present_quantity)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (variant_id, size, store_id) DO UPDATE SET
			present_quantity = store_quantities.present_quantity + EXCLUDED.present_quantity
	`, variantID, size, storeID, qty); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO assigned_history (variant_id, size, store_id, ledger_id, quantity_of_assigned, assigned_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, variantID, size, storeID, ledgerID, qty, at.UTC())
	return err
}

func (s *Store) TransferToStore(ctx context.Context, ref domain.SizeRef, fromStoreID string, toStoreID string, ledgerID string, amount int, at time.Time) error {
	if amount < 1 || fromStoreID == toStoreID {
		return store.ErrConflict
	}

	return s.WithinTx(ctx, func(ctx context.Context) error {
		row, err := s.findStockItem(ctx, ref)
		if err != nil {
			return err
		}
		q := s.conn(ctx)

		res, err := q.ExecContext(ctx, `
			UPDATE store_quantities
			SET present_quantity = present_quantity - $4
			WHERE variant_id = $1 AND size = $2 AND store_id = $3 AND present_quantity >= $4
		`, row.VariantID, row.Size, fromStoreID, amount)
		if err != nil {
			return err
		}
		ok, err := expectOne(res)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrInsufficientStock
		}
		if err := addPresent(ctx, q, row.VariantID, row.Size, toStoreID, ledgerID, amount, at); err != nil {
			return err
		}
		return s.touchProduct(ctx, ref.Group, ref.ProductID)
	})
}
