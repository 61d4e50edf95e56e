package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	mysqlDuplicateEntry   = 1062
	postgresUniqueViolate = "23505"
)

// SQLAdapter is the relational catalog store. Queries are written with "?"
// placeholders and rebound for the connection's driver.
type SQLAdapter struct {
	db *sqlx.DB
}

func NewSQLAdapter(db *sqlx.DB) *SQLAdapter {
	return &SQLAdapter{db: db}
}

func (s *SQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := s.db.SelectContext(ctx, &products, `
		SELECT id, name,
			COALESCE(description, '') AS description,
			COALESCE(tag, '') AS tag,
			price, quantity,
			COALESCE(image, '') AS image,
			COALESCE(link, '') AS link
		FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list products: %w", domain.ErrStore, err)
	}
	return products, nil
}

func (s *SQLAdapter) ConditionalDecrement(ctx context.Context, productID int64, amount int) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE products SET quantity = quantity - ?
		WHERE id = ? AND quantity >= ?`),
		amount, productID, amount,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: decrement product %d: %w", domain.ErrStore, productID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %w", domain.ErrStore, err)
	}
	return rows, nil
}

func (s *SQLAdapter) GetQuantity(ctx context.Context, productID int64) (int, error) {
	return getQuantity(ctx, s.db, productID)
}

// SettleItems records settlementID and applies every decrement inside one
// transaction. Items are expected in id order so concurrent settlements
// lock rows in the same sequence.
func (s *SQLAdapter) SettleItems(ctx context.Context, settlementID string, items []domain.CartItem) ([]domain.StockLevel, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %w", domain.ErrStore, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO settlements (id) VALUES (?)`), settlementID)
	if isDuplicateKey(err) {
		return nil, domain.ErrAlreadySettled
	}
	if err != nil {
		return nil, fmt.Errorf("%w: insert settlement: %w", domain.ErrStore, err)
	}

	levels := make([]domain.StockLevel, 0, len(items))
	for _, item := range items {
		result, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE products SET quantity = quantity - ?
			WHERE id = ? AND quantity >= ?`),
			item.Quantity, item.ProductID, item.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: decrement product %d: %w", domain.ErrStore, item.ProductID, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("%w: rows affected: %w", domain.ErrStore, err)
		}
		if rows == 0 {
			return nil, domain.NewProductError(item.ProductID, domain.ErrConcurrentOversell)
		}

		qty, err := getQuantity(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.StockLevel{ProductID: item.ProductID, Quantity: qty})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", domain.ErrStore, err)
	}
	return levels, nil
}

type rebindQueryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getQuantity(ctx context.Context, q rebindQueryer, productID int64) (int, error) {
	var qty int
	err := sqlx.GetContext(ctx, q, &qty, q.Rebind(`SELECT quantity FROM products WHERE id = ?`), productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NewProductError(productID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read quantity of product %d: %w", domain.ErrStore, productID, err)
	}
	return qty, nil
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == postgresUniqueViolate
	}
	return false
}
