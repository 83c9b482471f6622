package dberr

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Nil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Classify(nil))
}

func TestClassify_AlreadyClassified_Idempotent(t *testing.T) {
	t.Parallel()
	e := New(Query, "boom")
	got := Classify(e)
	assert.Same(t, e, got)

	// classify(classify(e).wire) yields the same kind and code.
	again := Classify(got)
	assert.Equal(t, got.Kind, again.Kind)
	assert.Equal(t, got.DiagnosticCode, again.DiagnosticCode)
}

func TestClassify_AuthenticationCode(t *testing.T) {
	t.Parallel()
	pgErr := &pgconn.PgError{Code: "28000", Message: "password authentication failed"}
	got := Classify(pgErr)
	require.NotNil(t, got)
	assert.Equal(t, Authentication, got.Kind)
	assert.Equal(t, "28000", got.DiagnosticCode)
}

func TestClassify_ConnectionLost(t *testing.T) {
	t.Parallel()
	for _, code := range []string{"08006", "08003"} {
		pgErr := &pgconn.PgError{Code: code, Message: "connection lost"}
		got := Classify(pgErr)
		require.NotNil(t, got)
		assert.Equal(t, Connection, got.Kind)
		assert.Contains(t, got.Hint, "reconnect")
	}
}

func TestClassify_DatabaseDoesNotExist(t *testing.T) {
	t.Parallel()
	pgErr := &pgconn.PgError{Code: "3D000", Message: "database \"foo\" does not exist"}
	got := Classify(pgErr)
	assert.Equal(t, Connection, got.Kind)
}

func TestClassify_ServerLimitReached(t *testing.T) {
	t.Parallel()
	pgErr := &pgconn.PgError{Code: "53300", Message: "too many connections"}
	got := Classify(pgErr)
	assert.Equal(t, Connection, got.Kind)
}

func TestClassify_ServerShuttingDown(t *testing.T) {
	t.Parallel()
	pgErr := &pgconn.PgError{Code: "57P01", Message: "terminating connection due to administrator command"}
	got := Classify(pgErr)
	assert.Equal(t, Connection, got.Kind)
}

func TestClassify_AdministratorCancel(t *testing.T) {
	t.Parallel()
	pgErr := &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}
	got := Classify(pgErr)
	assert.Equal(t, Query, got.Kind)
	assert.Equal(t, "cancelled by administrator", got.Hint)
}

func TestClassify_DiagnosticMappingScenario(t *testing.T) {
	t.Parallel()
	// spec.md §8 scenario 4.
	pos := int32(15)
	pgErr := &pgconn.PgError{
		Code:     "42P01",
		Message:  `relation "users" does not exist`,
		Position: pos,
	}
	got := Classify(pgErr)
	display := ToDisplay(got)

	assert.Equal(t, "Query Error", display.Kind)
	assert.Equal(t, `relation "users" does not exist`, display.Message)
	require.NotNil(t, display.Hint)
	assert.Equal(t, "Table does not exist", *display.Hint)
	require.NotNil(t, display.Position)
	assert.Equal(t, 15, *display.Position)
	require.NotNil(t, display.Code)
	assert.Equal(t, "42P01", *display.Code)
	assert.True(t, display.Recoverable)
}

func TestClassify_OtherCodePreservesFields(t *testing.T) {
	t.Parallel()
	pgErr := &pgconn.PgError{Code: "22001", Message: "value too long", Detail: "column x", Hint: "shorten it"}
	got := Classify(pgErr)
	assert.Equal(t, Query, got.Kind)
	assert.Equal(t, "value too long", got.Message)
	assert.Equal(t, "column x", got.Detail)
	assert.Equal(t, "shorten it", got.Hint)
	assert.Equal(t, "22001", got.DiagnosticCode)
}

func TestClassify_NonWire_Timeout(t *testing.T) {
	t.Parallel()
	got := Classify(errors.New("i/o timeout"))
	assert.Equal(t, Connection, got.Kind)
}

func TestClassify_NonWire_Closed(t *testing.T) {
	t.Parallel()
	got := Classify(errors.New("use of closed network connection"))
	assert.Equal(t, Connection, got.Kind)
}

func TestClassify_NonWire_ContextDeadlineExceeded(t *testing.T) {
	t.Parallel()
	got := Classify(context.DeadlineExceeded)
	assert.Equal(t, Connection, got.Kind)
}

func TestClassify_NonWire_ContextCanceled(t *testing.T) {
	t.Parallel()
	got := Classify(context.Canceled)
	assert.Equal(t, QueryCancelled, got.Kind)
}

func TestClassify_NonWire_Generic(t *testing.T) {
	t.Parallel()
	got := Classify(errors.New("something unexpected happened"))
	assert.Equal(t, Connection, got.Kind)
	assert.Equal(t, "something unexpected happened", got.Message)
}

func TestHintFor_ExhaustiveSet(t *testing.T) {
	t.Parallel()
	codes := []string{
		"3D000", "42601", "42P01", "42703", "42501", "42P02",
		"53000", "53100", "53200", "57P02", "57P03",
		"08000", "08001", "08003", "08004", "08006", "28000", "57014",
	}
	for _, code := range codes {
		_, ok := HintFor(code)
		assert.True(t, ok, "expected a hint for code %s", code)
	}
}

func TestHintFor_UnknownCode(t *testing.T) {
	t.Parallel()
	_, ok := HintFor("99999")
	assert.False(t, ok)
}
