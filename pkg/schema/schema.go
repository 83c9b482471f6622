// Package schema introspects a connected PostgreSQL database's catalog
// and assembles a DatabaseSchema snapshot, per spec.md §4.G. Query
// shapes (namespace filtering, pg_catalog joins, per-table/per-view
// lazy column loading) are grounded on the original tusk_core
// SchemaService (original_source/crates/tusk_core/src/services/schema.rs),
// translated from tokio-postgres row.get("...") scanning to pgx's
// rows.Scan. The Introspector is stateless: it holds no connection and
// no cache, issuing every query through the same PooledConnection
// query methods pkg/queryengine uses — the Registry owns the cache.
package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Queryer is the subset of dbpool.PooledConnection the introspector
// needs. Declared locally so this package does not import dbpool;
// dbpool.PooledConnection satisfies it structurally.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Introspector runs catalog queries against a Queryer. The zero value
// is ready to use.
type Introspector struct{}

// New returns a ready-to-use Introspector.
func New() *Introspector {
	return &Introspector{}
}

// LoadSchema loads schemas, tables, views, and functions, then lazily
// loads columns for every table and view, per spec.md §4.G's
// load_schema operation.
func (i *Introspector) LoadSchema(ctx context.Context, conn Queryer) (*DatabaseSchema, error) {
	schemas, err := i.LoadSchemas(ctx, conn)
	if err != nil {
		return nil, err
	}
	tables, err := i.LoadTables(ctx, conn)
	if err != nil {
		return nil, err
	}
	views, err := i.LoadViews(ctx, conn)
	if err != nil {
		return nil, err
	}
	functions, err := i.LoadFunctions(ctx, conn)
	if err != nil {
		return nil, err
	}

	tableColumns := make(map[TableKey][]ColumnDetail, len(tables))
	for _, t := range tables {
		cols, err := i.LoadColumns(ctx, conn, t.Schema, t.Name)
		if err != nil {
			return nil, err
		}
		tableColumns[TableKey{Schema: t.Schema, Name: t.Name}] = cols
	}

	viewColumns := make(map[TableKey][]ColumnDetail, len(views))
	for _, v := range views {
		cols, err := i.LoadColumns(ctx, conn, v.Schema, v.Name)
		if err != nil {
			return nil, err
		}
		viewColumns[TableKey{Schema: v.Schema, Name: v.Name}] = cols
	}

	return &DatabaseSchema{
		Schemas:      schemas,
		Tables:       tables,
		Views:        views,
		Functions:    functions,
		TableColumns: tableColumns,
		ViewColumns:  viewColumns,
	}, nil
}

const namespaceFilter = `n.nspname NOT LIKE 'pg_%' AND n.nspname != 'information_schema'`

// LoadSchemas lists every user namespace, excluding internal ones.
func (i *Introspector) LoadSchemas(ctx context.Context, conn Queryer) ([]SchemaInfo, error) {
	rows, err := conn.Query(ctx, `
		SELECT n.nspname AS name, pg_get_userbyid(n.nspowner) AS owner
		FROM pg_catalog.pg_namespace n
		WHERE `+namespaceFilter+`
		ORDER BY n.nspname
	`)
	if err != nil {
		return nil, fmt.Errorf("schema: load_schemas: %w", err)
	}
	defer rows.Close()

	var out []SchemaInfo
	for rows.Next() {
		var s SchemaInfo
		if err := rows.Scan(&s.Name, &s.Owner); err != nil {
			return nil, fmt.Errorf("schema: scan schema row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: load_schemas: %w", err)
	}
	return out, nil
}

// LoadTables lists every ordinary table (relkind = 'r') in a
// non-internal namespace.
func (i *Introspector) LoadTables(ctx context.Context, conn Queryer) ([]TableInfo, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			n.nspname AS schema,
			c.relname AS name,
			pg_get_userbyid(c.relowner) AS owner,
			c.reltuples::bigint AS estimated_rows,
			pg_table_size(c.oid) AS size_bytes
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r' AND `+namespaceFilter+`
		ORDER BY n.nspname, c.relname
	`)
	if err != nil {
		return nil, fmt.Errorf("schema: load_tables: %w", err)
	}
	defer rows.Close()

	var out []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.Owner, &t.EstimatedRows, &t.SizeBytes); err != nil {
			return nil, fmt.Errorf("schema: scan table row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: load_tables: %w", err)
	}
	return out, nil
}

// LoadViews lists every ordinary and materialized view (relkind IN
// ('v', 'm')) in a non-internal namespace.
func (i *Introspector) LoadViews(ctx context.Context, conn Queryer) ([]ViewInfo, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			n.nspname AS schema,
			c.relname AS name,
			pg_get_userbyid(c.relowner) AS owner,
			c.relkind = 'm' AS is_materialized
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('v', 'm') AND `+namespaceFilter+`
		ORDER BY n.nspname, c.relname
	`)
	if err != nil {
		return nil, fmt.Errorf("schema: load_views: %w", err)
	}
	defer rows.Close()

	var out []ViewInfo
	for rows.Next() {
		var v ViewInfo
		if err := rows.Scan(&v.Schema, &v.Name, &v.Owner, &v.IsMaterialized); err != nil {
			return nil, fmt.Errorf("schema: scan view row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: load_views: %w", err)
	}
	return out, nil
}

// LoadFunctions lists every plain function (prokind = 'f') in a
// non-internal namespace.
func (i *Introspector) LoadFunctions(ctx context.Context, conn Queryer) ([]FunctionInfo, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			n.nspname AS schema,
			p.proname AS name,
			pg_get_function_result(p.oid) AS return_type,
			pg_get_function_identity_arguments(p.oid) AS arguments,
			CASE p.provolatile
				WHEN 'i' THEN 'IMMUTABLE'
				WHEN 's' THEN 'STABLE'
				WHEN 'v' THEN 'VOLATILE'
			END AS volatility
		FROM pg_catalog.pg_proc p
		JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
		WHERE `+namespaceFilter+` AND p.prokind = 'f'
		ORDER BY n.nspname, p.proname
	`)
	if err != nil {
		return nil, fmt.Errorf("schema: load_functions: %w", err)
	}
	defer rows.Close()

	var out []FunctionInfo
	for rows.Next() {
		var f FunctionInfo
		if err := rows.Scan(&f.Schema, &f.Name, &f.ReturnType, &f.Arguments, &f.Volatility); err != nil {
			return nil, fmt.Errorf("schema: scan function row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: load_functions: %w", err)
	}
	return out, nil
}

// LoadColumns loads the columns of one table or view, parameterized on
// schema and table name, ordered by ordinal position.
func (i *Introspector) LoadColumns(ctx context.Context, conn Queryer, schemaName, table string) ([]ColumnDetail, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			a.attname AS name,
			pg_catalog.format_type(a.atttypid, a.atttypmod) AS data_type,
			NOT a.attnotnull AS is_nullable,
			COALESCE(
				(SELECT TRUE FROM pg_catalog.pg_constraint c
				 WHERE c.conrelid = a.attrelid
				   AND c.contype = 'p'
				   AND a.attnum = ANY(c.conkey)),
				FALSE
			) AS is_primary_key,
			pg_get_expr(d.adbin, d.adrelid) AS default_value,
			a.attnum::integer AS ordinal_position
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum
	`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("schema: load_columns(%s.%s): %w", schemaName, table, err)
	}
	defer rows.Close()

	var out []ColumnDetail
	for rows.Next() {
		var c ColumnDetail
		if err := rows.Scan(&c.Name, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.DefaultValue, &c.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("schema: scan column row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: load_columns(%s.%s): %w", schemaName, table, err)
	}
	return out, nil
}
