package schema

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestLoadSchemas(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_namespace")).
		WillReturnRows(pgxmock.NewRows([]string{"name", "owner"}).
			AddRow("public", "postgres").
			AddRow("app", "app_owner"))

	out, err := New().LoadSchemas(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, SchemaInfo{Name: "public", Owner: "postgres"}, out[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadTables(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_class")).
		WillReturnRows(pgxmock.NewRows([]string{"schema", "name", "owner", "estimated_rows", "size_bytes"}).
			AddRow("public", "users", "postgres", int64(42), int64(8192)))

	out, err := New().LoadTables(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "users", out[0].Name)
	require.Equal(t, int64(42), out[0].EstimatedRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadViews(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("relkind IN ('v', 'm')")).
		WillReturnRows(pgxmock.NewRows([]string{"schema", "name", "owner", "is_materialized"}).
			AddRow("public", "active_users", "postgres", false).
			AddRow("public", "daily_rollup", "postgres", true))

	out, err := New().LoadViews(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.False(t, out[0].IsMaterialized)
	require.True(t, out[1].IsMaterialized)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadFunctions(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_proc")).
		WillReturnRows(pgxmock.NewRows([]string{"schema", "name", "return_type", "arguments", "volatility"}).
			AddRow("public", "normalize_email", "text", "text", "IMMUTABLE"))

	out, err := New().LoadFunctions(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "IMMUTABLE", out[0].Volatility)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadColumns_ParameterizesSchemaAndTable(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	defaultVal := "nextval('users_id_seq'::regclass)"
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_attribute")).
		WithArgs("public", "users").
		WillReturnRows(pgxmock.NewRows([]string{"name", "data_type", "is_nullable", "is_primary_key", "default_value", "ordinal_position"}).
			AddRow("id", "integer", false, true, &defaultVal, int32(1)).
			AddRow("email", "character varying(255)", true, false, nil, int32(2)))

	out, err := New().LoadColumns(context.Background(), mock, "public", "users")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "id", out[0].Name)
	require.True(t, out[0].IsPrimaryKey)
	require.NotNil(t, out[0].DefaultValue)
	require.Nil(t, out[1].DefaultValue)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadColumns_QueryError_IsWrapped(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	wantErr := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_attribute")).
		WithArgs("public", "ghost").
		WillReturnError(wantErr)

	_, err := New().LoadColumns(context.Background(), mock, "public", "ghost")
	require.Error(t, err)
	require.ErrorIs(t, err, wantErr)
}

func TestLoadSchema_AssemblesFullSnapshotWithLazyColumns(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_namespace")).
		WillReturnRows(pgxmock.NewRows([]string{"name", "owner"}).AddRow("public", "postgres"))
	mock.ExpectQuery(regexp.QuoteMeta("c.relkind = 'r'")).
		WillReturnRows(pgxmock.NewRows([]string{"schema", "name", "owner", "estimated_rows", "size_bytes"}).
			AddRow("public", "users", "postgres", int64(10), int64(4096)))
	mock.ExpectQuery(regexp.QuoteMeta("relkind IN ('v', 'm')")).
		WillReturnRows(pgxmock.NewRows([]string{"schema", "name", "owner", "is_materialized"}).
			AddRow("public", "active_users", "postgres", false))
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_proc")).
		WillReturnRows(pgxmock.NewRows([]string{"schema", "name", "return_type", "arguments", "volatility"}))
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_attribute")).
		WithArgs("public", "users").
		WillReturnRows(pgxmock.NewRows([]string{"name", "data_type", "is_nullable", "is_primary_key", "default_value", "ordinal_position"}).
			AddRow("id", "integer", false, true, nil, int32(1)))
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_attribute")).
		WithArgs("public", "active_users").
		WillReturnRows(pgxmock.NewRows([]string{"name", "data_type", "is_nullable", "is_primary_key", "default_value", "ordinal_position"}).
			AddRow("user_id", "integer", false, false, nil, int32(1)))

	out, err := New().LoadSchema(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, out.Schemas, 1)
	require.Len(t, out.Tables, 1)
	require.Len(t, out.Views, 1)
	require.Empty(t, out.Functions)

	cols, ok := out.TableColumns[TableKey{Schema: "public", Name: "users"}]
	require.True(t, ok)
	require.Len(t, cols, 1)

	vcols, ok := out.ViewColumns[TableKey{Schema: "public", Name: "active_users"}]
	require.True(t, ok)
	require.Len(t, vcols, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}
