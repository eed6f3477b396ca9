package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/models"
)

const productColumns = `id, sku, name, description, brand, category, weight_grams, price, discount,
		stock_quantity, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

type NewProduct struct {
	SKU           string
	Name          string
	Description   string
	Brand         string
	Category      string
	WeightGrams   int
	Price         decimal.Decimal
	Discount      decimal.Decimal
	StockQuantity int
}

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Brand,
		&product.Category,
		&product.WeightGrams,
		&product.Price,
		&product.Discount,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

func CreateProduct(ctx context.Context, q Querier, p NewProduct) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (sku, name, description, brand, category, weight_grams, price, discount,
		                      stock_quantity, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	row := q.QueryRowContext(ctx, query,
		p.SKU, p.Name, p.Description, p.Brand, p.Category, p.WeightGrams, p.Price, p.Discount, p.StockQuantity)
	if err := scanProduct(row, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q Querier, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := scanProduct(q.QueryRowContext(ctx, query, id), product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// ReserveStock locks the product row and checks there is enough stock. The
// lock is held until the caller's transaction ends.
func ReserveStock(ctx context.Context, q Querier, productID int64, quantity int) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	if err := scanProduct(q.QueryRowContext(ctx, query, productID), product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	if product.StockQuantity < quantity {
		return nil, database.ErrInsufficientStock
	}

	return product, nil
}

// LockProductNoWait locks the product row or fails fast with ErrLockTimeout
// when another transaction holds it.
func LockProductNoWait(ctx context.Context, q Querier, productID int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE NOWAIT`

	if err := scanProduct(q.QueryRowContext(ctx, query, productID), product); err != nil {
		if database.IsLockNotAvailable(err) {
			return nil, database.ErrLockTimeout
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product (nowait): %w", err)
	}

	return product, nil
}

// UpdateStockOptimistic sets the stock level if the product is still at
// version.
func UpdateStockOptimistic(ctx context.Context, q Querier, productID int64, newStock int, version int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		newStock, productID, version)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	return expectOneRow(result, database.ErrOptimisticLockFailed)
}

func DecrementStock(ctx context.Context, q Querier, productID int64, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	return expectOneRow(result, database.ErrInsufficientStock)
}

// RestockProduct returns units to stock, used when an order is cancelled.
func RestockProduct(ctx context.Context, q Querier, productID int64, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("restock product: %w", err)
	}

	return expectOneRow(result, database.ErrProductNotFound)
}

func ListProducts(ctx context.Context, q Querier, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := q.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return NewOffsetPage(products, total, page, pageSize), nil
}
