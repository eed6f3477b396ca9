package store

import (
	"context"
	"fmt"

	"github.com/safar/order-lifecycle/internal/models"
)

// AddCartItem adds quantity to the user's cart line for the product, creating
// the line if needed.
func AddCartItem(ctx context.Context, q Querier, userID, productID int64, quantity int) (*models.CartItem, error) {
	item := &models.CartItem{}

	query := `
		INSERT INTO cart_items (user_id, product_id, quantity, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT ON CONSTRAINT cart_items_user_product_key
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id, user_id, product_id, quantity, created_at`

	err := q.QueryRowContext(ctx, query, userID, productID, quantity).Scan(
		&item.ID,
		&item.UserID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	return item, nil
}

func ListCartItems(ctx context.Context, q Querier, userID int64) ([]models.CartItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, product_id, quantity, created_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func ClearCart(ctx context.Context, q Querier, userID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
