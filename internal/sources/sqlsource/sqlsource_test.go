package sqlsource

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSource(t *testing.T) (*Source, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Source{db: db, opened: true, cfg: Config{MaxOpenConn: 4}}, mock
}

func TestOpenIsIdempotent(t *testing.T) {
	src, _ := newMockSource(t)
	require.NoError(t, src.Open(context.Background()))
	assert.True(t, src.IsOpen())
}

func TestExecuteFailsWhenNotOpen(t *testing.T) {
	src := New(Config{DSN: "postgres://unused"})
	_, err := src.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
}

func TestExecuteRunsQueryAgainstPool(t *testing.T) {
	src, mock := newMockSource(t)
	rows := sqlmock.NewRows([]string{"id", "title"}).AddRow(1, "hello")
	mock.ExpectQuery("SELECT id, title FROM posts").WillReturnRows(rows)

	result, err := src.Execute(context.Background(), "SELECT id, title FROM posts")
	require.NoError(t, err)
	r, ok := result.(*sql.Rows)
	require.True(t, ok)
	defer r.Close()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseIsIdempotent(t *testing.T) {
	src, mock := newMockSource(t)
	mock.ExpectClose()
	require.NoError(t, src.Close())
	assert.False(t, src.IsOpen())
	require.NoError(t, src.Close())
}

func TestConfigReturnsPoolSettings(t *testing.T) {
	src, _ := newMockSource(t)
	cfg := src.Config()
	assert.Equal(t, 4, cfg["maxOpenConn"])
}

func TestAdaptExtractsDSNAndPoolOpts(t *testing.T) {
	raw := map[string]any{
		"connectionOpts": map[string]any{"dsn": "postgres://x"},
		"poolOpts":       map[string]any{"maxOpenConn": 10, "maxIdleConn": 2},
	}
	got, err := adapt(raw)
	require.NoError(t, err)
	cfg := got.(Config)
	assert.Equal(t, "postgres://x", cfg.DSN)
	assert.Equal(t, 10, cfg.MaxOpenConn)
	assert.Equal(t, 2, cfg.MaxIdleConn)
}

func TestValidateRejectsMissingDSN(t *testing.T) {
	err := validate(Config{})
	require.Error(t, err)
}

func TestValidateAcceptsDSN(t *testing.T) {
	err := validate(Config{DSN: "postgres://x"})
	require.NoError(t, err)
}

func TestCreateRejectsWrongConfigType(t *testing.T) {
	_, err := create("not-a-config")
	require.Error(t, err)
}

func TestFactoryProducesUsableSource(t *testing.T) {
	f := Factory()
	raw := map[string]any{"connectionOpts": map[string]any{"dsn": "postgres://x"}}
	adapted, err := f.Adapter(raw)
	require.NoError(t, err)
	require.NoError(t, f.Validate(adapted))

	created, err := f.Create(adapted)
	require.NoError(t, err)
	_, ok := created.(*Source)
	assert.True(t, ok)
}
