package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
	"github.com/registrar-office/registrar-engine/pkg/database"
	"github.com/registrar-office/registrar-engine/pkg/models"
	"github.com/registrar-office/registrar-engine/pkg/normalize"
)

// KeyCondition matches a column by its normalized text form.
type KeyCondition struct {
	Field string
	// Value must already be folded with normalize.Key.
	Value string
}

// RecordRepository is schema-driven data access for every record table.
// All identifiers come from validated schemas and are quoted; all values are bound.
type RecordRepository interface {
	Count(ctx context.Context, s *models.RecordSchema) (int64, error)
	FindByID(ctx context.Context, s *models.RecordSchema, id int64) (models.Record, error)
	// FindByKey returns up to limit records matching every condition, lowest id first.
	FindByKey(ctx context.Context, s *models.RecordSchema, conds []KeyCondition, limit int) ([]models.Record, error)
	// Page returns records with id greater than afterID in id order.
	Page(ctx context.Context, s *models.RecordSchema, afterID int64, limit int) ([]models.Record, error)
	Create(ctx context.Context, s *models.RecordSchema, payload models.Record) (int64, error)
	Update(ctx context.Context, s *models.RecordSchema, id int64, payload models.Record) error
	Destroy(ctx context.Context, s *models.RecordSchema, ids []int64) (int64, error)
	// ExistingValues maps each normalized key found in table.column to its stored value.
	ExistingValues(ctx context.Context, table, column string, keys []string) (map[string]string, error)
	DuplicateMembers(ctx context.Context, s *models.RecordSchema, keys []string, normalized bool) ([]models.DuplicateGroup, error)
	ReferenceMismatches(ctx context.Context, s *models.RecordSchema) ([]models.ReferenceMismatch, error)
}

type recordRepository struct {
	db database.Querier
}

// NewRecordRepository creates a RecordRepository over db.
func NewRecordRepository(db database.Querier) RecordRepository {
	return &recordRepository{db: db}
}

var _ RecordRepository = (*recordRepository)(nil)

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func selectList(s *models.RecordSchema) string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = ident(f.Name)
	}
	return strings.Join(cols, ", ")
}

func (r *recordRepository) Count(ctx context.Context, s *models.RecordSchema) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, "SELECT count(*) FROM "+ident(s.Table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.Table, err)
	}
	return n, nil
}

func (r *recordRepository) FindByID(ctx context.Context, s *models.RecordSchema, id int64) (models.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		selectList(s), ident(s.Table), ident(s.PrimaryKey()))

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s by id: %w", s.Key, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.Key, err)
	}
	if len(records) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return records[0], nil
}

func (r *recordRepository) FindByKey(ctx context.Context, s *models.RecordSchema, conds []KeyCondition, limit int) ([]models.Record, error) {
	if len(conds) == 0 {
		return nil, fmt.Errorf("find %s: no key conditions", s.Key)
	}
	where := make([]string, len(conds))
	args := make([]any, 0, len(conds)+1)
	for i, c := range conds {
		where[i] = fmt.Sprintf("%s = $%d", normalize.KeySQL(ident(c.Field)), i+1)
		args = append(args, c.Value)
	}
	args = append(args, limit)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT $%d",
		selectList(s), ident(s.Table), strings.Join(where, " AND "), ident(s.PrimaryKey()), len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s by key: %w", s.Key, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.Key, err)
	}
	return records, nil
}

func (r *recordRepository) Page(ctx context.Context, s *models.RecordSchema, afterID int64, limit int) ([]models.Record, error) {
	pk := ident(s.PrimaryKey())
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s > $1 ORDER BY %s LIMIT $2",
		selectList(s), ident(s.Table), pk, pk)

	rows, err := r.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page %s: %w", s.Key, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.Key, err)
	}
	return records, nil
}

func (r *recordRepository) Create(ctx context.Context, s *models.RecordSchema, payload models.Record) (int64, error) {
	cols, args := payloadColumns(s, payload)

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", ident(s.Table), ident(s.PrimaryKey()))
	} else {
		placeholders := make([]string, len(cols))
		for i := range cols {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			ident(s.Table), strings.Join(cols, ", "), strings.Join(placeholders, ", "), ident(s.PrimaryKey()))
	}

	var id int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", s.Key, apperrors.FromStore(err))
	}
	return id, nil
}

func (r *recordRepository) Update(ctx context.Context, s *models.RecordSchema, id int64, payload models.Record) error {
	cols, args := payloadColumns(s, payload)
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, len(cols), len(cols)+1)
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	if s.HasField("updated_at") && s.IsAuditField("updated_at") {
		sets = append(sets, ident("updated_at")+" = now()")
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		ident(s.Table), strings.Join(sets, ", "), ident(s.PrimaryKey()), len(args))

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", s.Key, apperrors.FromStore(err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *recordRepository) Destroy(ctx context.Context, s *models.RecordSchema, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1)", ident(s.Table), ident(s.PrimaryKey()))
	tag, err := r.db.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", s.Key, apperrors.FromStore(err))
	}
	return tag.RowsAffected(), nil
}

func (r *recordRepository) ExistingValues(ctx context.Context, table, column string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	norm := normalize.KeySQL(ident(column))
	query := fmt.Sprintf("SELECT %s, min(%s::text) FROM %s WHERE %s = ANY($1) GROUP BY 1",
		norm, ident(column), ident(table), norm)

	rows, err := r.db.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, stored string
		if err := rows.Scan(&key, &stored); err != nil {
			return nil, fmt.Errorf("failed to scan %s.%s: %w", table, column, err)
		}
		out[key] = stored
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", table, column, err)
	}
	return out, nil
}

func (r *recordRepository) DuplicateMembers(ctx context.Context, s *models.RecordSchema, keys []string, normalized bool) ([]models.DuplicateGroup, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s has no audit keys", s.Key)
	}

	keyExprs := make([]string, len(keys))
	rawExprs := make([]string, len(keys))
	blank := make([]string, len(keys))
	for i, k := range keys {
		col := ident(k)
		rawExprs[i] = fmt.Sprintf("%s::text", col)
		if normalized {
			keyExprs[i] = fmt.Sprintf("coalesce(%s, '')", normalize.KeySQL(col))
		} else {
			keyExprs[i] = fmt.Sprintf("coalesce(%s::text, '')", col)
		}
		blank[i] = keyExprs[i] + " = ''"
	}
	secondary := "NULL::text"
	if s.SecondaryField != "" {
		secondary = ident(s.SecondaryField) + "::text"
	}
	partition := strings.Join(keyExprs, ", ")

	query := fmt.Sprintf(`
		SELECT id, secondary, keys, raw FROM (
			SELECT %[1]s AS id,
			       %[2]s AS secondary,
			       ARRAY[%[3]s] AS keys,
			       ARRAY[%[4]s] AS raw,
			       count(*) OVER (PARTITION BY %[3]s) AS n
			FROM %[5]s
			WHERE NOT (%[6]s)
		) grouped
		WHERE n > 1
		ORDER BY keys, id`,
		ident(s.PrimaryKey()), secondary, partition, strings.Join(rawExprs, ", "),
		ident(s.Table), strings.Join(blank, " AND "))

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s duplicates: %w", s.Key, err)
	}
	defer rows.Close()

	var groups []models.DuplicateGroup
	for rows.Next() {
		var (
			id        int64
			sec       *string
			groupKeys []string
			raw       []*string
		)
		if err := rows.Scan(&id, &sec, &groupKeys, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s duplicate: %w", s.Key, err)
		}

		member := models.DuplicateMember{ID: id, Values: make(map[string]any, len(keys))}
		for i, k := range keys {
			if i < len(raw) && raw[i] != nil {
				member.Values[k] = *raw[i]
			} else {
				member.Values[k] = nil
			}
		}
		if sec != nil {
			member.Secondary = strings.TrimSpace(*sec)
		}

		if n := len(groups); n == 0 || !equalKeys(groups[n-1].Key, groupKeys) {
			groups = append(groups, models.DuplicateGroup{Key: groupKeys})
		}
		g := &groups[len(groups)-1]
		g.Members = append(g.Members, member)
		g.Count = len(g.Members)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s duplicates: %w", s.Key, err)
	}
	return groups, nil
}

func (r *recordRepository) ReferenceMismatches(ctx context.Context, s *models.RecordSchema) ([]models.ReferenceMismatch, error) {
	ref := s.Reference
	if ref == nil {
		return nil, fmt.Errorf("%s has no cross-table reference", s.Key)
	}
	local := ident("t", ref.Field)
	remote := ident("r", ref.Column)

	query := fmt.Sprintf(`
		SELECT %s, %s::text
		FROM %s t
		WHERE coalesce(%s, '') <> ''
		  AND NOT EXISTS (
			SELECT 1 FROM %s r WHERE %s = %s
		  )
		ORDER BY %s`,
		ident("t", s.PrimaryKey()), local,
		ident(s.Table),
		normalize.KeySQL(local),
		ident(ref.Table), normalize.KeySQL(remote), normalize.KeySQL(local),
		ident("t", s.PrimaryKey()))

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s reference mismatches: %w", s.Key, err)
	}
	defer rows.Close()

	var out []models.ReferenceMismatch
	for rows.Next() {
		var m models.ReferenceMismatch
		if err := rows.Scan(&m.ID, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to scan %s reference mismatch: %w", s.Key, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s reference mismatches: %w", s.Key, err)
	}
	return out, nil
}

// payloadColumns returns quoted column names and bound values for the
// writable fields present in payload, in schema order. Nil values are dropped.
func payloadColumns(s *models.RecordSchema, payload models.Record) ([]string, []any) {
	var cols []string
	var args []any
	for _, name := range s.WritableFields() {
		v, ok := payload[name]
		if !ok || v == nil {
			continue
		}
		cols = append(cols, ident(name))
		args = append(args, v)
	}
	return cols, args
}

// scanRecords reads every row into a Record keyed by column name and
// widens driver integer and float types to int64 and float64.
func scanRecords(rows pgx.Rows) ([]models.Record, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []models.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rec := make(models.Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = widen(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func widen(v any) any {
	switch x := v.(type) {
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IsNotFound reports whether err is the repository not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
