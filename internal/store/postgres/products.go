package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/catalog-importer/internal/core"
)

const productColumns = `id, sku, sku_normalized, name, description, price, active, created_at, updated_at`

// upsertProductSQL overwrites an existing record's fields in place and leaves
// active and the timestamps alone. New records start active.
const upsertProductSQL = `
	INSERT INTO products (sku, sku_normalized, name, description, price, active)
	VALUES ($1, $2, $3, $4, $5, true)
	ON CONFLICT (sku_normalized) DO UPDATE
	SET sku = EXCLUDED.sku,
	    name = EXCLUDED.name,
	    description = EXCLUDED.description,
	    price = EXCLUDED.price`

func scanProduct(row pgx.Row) (*core.Product, error) {
	var p core.Product
	err := row.Scan(&p.ID, &p.SKU, &p.SKUNormalized, &p.Name, &p.Description,
		&p.Price, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*core.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*core.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE sku_normalized = $1`, core.NormalizeSKU(sku)))
}

// ListProducts returns one page ordered by id descending and the total number
// of matching products.
func (s *Store) ListProducts(ctx context.Context, f core.ProductFilter) ([]core.Product, int64, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.SKU != "" {
		add("sku ILIKE $%d", likePattern(f.SKU))
	}
	if f.Name != "" {
		add("name ILIKE $%d", likePattern(f.Name))
	}
	if f.Description != "" {
		add("description ILIKE $%d", likePattern(f.Description))
	}
	if f.Active != nil {
		add("active = $%d", *f.Active)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM products`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM products%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		productColumns, clause, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, f.PageSize, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	items := []core.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("read products: %w", err)
	}
	return items, total, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *core.Product) (*core.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `
		INSERT INTO products (sku, sku_normalized, name, description, price, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+productColumns,
		p.SKU, p.SKUNormalized, p.Name, p.Description, p.Price, p.Active))
}

func (s *Store) UpdateProduct(ctx context.Context, p *core.Product) (*core.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products
		SET sku = $2, sku_normalized = $3, name = $4, description = $5,
		    price = $6, active = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.SKU, p.SKUNormalized, p.Name, p.Description, p.Price, p.Active))
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAllProducts(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products`)
	if err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountProducts(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&n)
	return n, err
}

// CommitBatch sends one upsert per row plus the job's processed_rows update
// in a single transaction. Rows run as separate statements, so a key that
// repeats within the batch resolves to the later row.
func (s *Store) CommitBatch(ctx context.Context, jobID uuid.UUID, rows []core.ProductUpsert, processedRows int) error {
	return s.transact(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, u := range rows {
			batch.Queue(upsertProductSQL, u.SKU, u.Key(), u.Name, u.Description, u.Price)
		}
		batch.Queue(`UPDATE import_jobs SET processed_rows = $2 WHERE id = $1`, jobID, processedRows)

		br := tx.SendBatch(ctx, batch)
		for i := range rows {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upsert sku %q: %w", rows[i].SKU, mapErr(err))
			}
		}
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return fmt.Errorf("update processed rows: %w", err)
		}
		if err := br.Close(); err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return core.ErrNotFound
		}
		return nil
	})
}
