package repositories

import (
	"context"
	"fmt"

	"github.com/registrar-office/registrar-engine/pkg/database"
	"github.com/registrar-office/registrar-engine/pkg/models"
)

// CatalogRepository reads live table metadata from information_schema.
type CatalogRepository interface {
	DescribeTable(ctx context.Context, table string) ([]models.TableColumn, error)
}

type catalogRepository struct {
	db database.Querier
}

// NewCatalogRepository creates a CatalogRepository over db.
func NewCatalogRepository(db database.Querier) CatalogRepository {
	return &catalogRepository{db: db}
}

var _ CatalogRepository = (*catalogRepository)(nil)

// DescribeTable returns the columns of table in ordinal order.
// An unknown table yields an empty slice, not an error.
func (r *catalogRepository) DescribeTable(ctx context.Context, table string) ([]models.TableColumn, error) {
	query := `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS is_nullable,
			c.column_default IS NOT NULL AS has_default,
			COALESCE(pk.is_pk, false) AS is_primary_key
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index i
			JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
			JOIN pg_class t ON t.oid = i.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			WHERE i.indisprimary
			  AND n.nspname = current_schema()
			  AND t.relname = $1
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = current_schema()
		  AND c.table_name = $1
		ORDER BY c.ordinal_position`

	rows, err := r.db.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []models.TableColumn
	for rows.Next() {
		var c models.TableColumn
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.HasDefault, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	return columns, nil
}
