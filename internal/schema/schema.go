// Package schema discovers a Postgres publication's table catalog by
// OID rather than by DDL text, the way a replication client needs to:
// a table's identity and column layout must be resolvable before a
// single row is decoded.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jfoltran/pgcdc/internal/cellmodel"
)

// Catalog discovers TableSchema values for every table in a named
// publication, using the system catalogs rather than a schema dump.
type Catalog struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewCatalog creates a Catalog bound to a connection pool.
func NewCatalog(pool *pgxpool.Pool, logger zerolog.Logger) *Catalog {
	return &Catalog{pool: pool, logger: logger.With().Str("component", "schema").Logger()}
}

// DiscoverTables returns the TableSchema for every relation in the
// given publication, keyed by relation OID, with columns in physical
// attribute order and primary-key position filled in from pg_index.
func (c *Catalog) DiscoverTables(ctx context.Context, publication string) (map[cellmodel.TableID]cellmodel.TableSchema, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT c.oid, n.nspname, c.relname
		FROM pg_publication_tables pt
		JOIN pg_class c ON c.relname = pt.tablename
		JOIN pg_namespace n ON n.oid = c.relnamespace AND n.nspname = pt.schemaname
		WHERE pt.pubname = $1
		ORDER BY c.oid`, publication)
	if err != nil {
		return nil, fmt.Errorf("list publication tables: %w", err)
	}
	defer rows.Close()

	var tables []cellmodel.TableSchema
	for rows.Next() {
		var t cellmodel.TableSchema
		var oid uint32
		if err := rows.Scan(&oid, &t.Namespace, &t.Relation); err != nil {
			return nil, fmt.Errorf("scan publication table: %w", err)
		}
		t.ID = cellmodel.TableID(oid)
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[cellmodel.TableID]cellmodel.TableSchema, len(tables))
	for _, t := range tables {
		cols, err := c.columnsFor(ctx, uint32(t.ID))
		if err != nil {
			return nil, fmt.Errorf("columns for %s: %w", t.QualifiedName(), err)
		}
		t.Columns = cols
		out[t.ID] = t
	}
	return out, nil
}

// columnsFor returns a table's columns in attribute-number order,
// with each column's type OID, nullability, and primary-key position
// (0 if the column is not part of the primary key).
func (c *Catalog) columnsFor(ctx context.Context, relOID uint32) ([]cellmodel.ColumnSchema, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT a.attname, a.atttypid, NOT a.attnotnull,
			COALESCE(ik.pk_pos, 0)
		FROM pg_attribute a
		LEFT JOIN (
			SELECT unnest(i.indkey) AS attnum, generate_subscripts(i.indkey, 1) + 1 AS pk_pos
			FROM pg_index i
			WHERE i.indrelid = $1 AND i.indisprimary
		) ik ON ik.attnum = a.attnum
		WHERE a.attrelid = $1 AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`, relOID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var cols []cellmodel.ColumnSchema
	for rows.Next() {
		var col cellmodel.ColumnSchema
		if err := rows.Scan(&col.Name, &col.OID, &col.Nullable, &col.PKPosition); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// EnsurePublication creates the named publication for all tables if
// it does not already exist, the way a fresh pipeline run bootstraps
// its own replication scope.
func (c *Catalog) EnsurePublication(ctx context.Context, name string) error {
	var exists bool
	err := c.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pg_publication WHERE pubname = $1)`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check publication: %w", err)
	}
	if exists {
		return nil
	}
	_, err = c.pool.Exec(ctx, fmt.Sprintf("CREATE PUBLICATION %s FOR ALL TABLES", quoteIdent(name)))
	if err != nil {
		return fmt.Errorf("create publication %s: %w", name, err)
	}
	c.logger.Info().Str("publication", name).Msg("created publication")
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
