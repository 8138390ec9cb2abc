package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookupSourceProvider(t *testing.T) {
	r := New()
	factory := SourceProviderFactory{ConfigType: "sql"}
	require.NoError(t, r.RegisterSourceProvider("sql.postgres", factory))

	got, err := r.SourceProvider("sql.postgres")
	require.NoError(t, err)
	assert.Equal(t, "sql", got.ConfigType)
}

func TestLookupUnknownSourceProviderFails(t *testing.T) {
	r := New()
	_, err := r.SourceProvider("missing")
	require.Error(t, err)
}

func TestRegisterDuplicateIDFails(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterStep("core.echo", func(map[string]any) (any, error) { return nil, nil }))
	err := r.RegisterStep("core.echo", func(map[string]any) (any, error) { return nil, nil })
	require.Error(t, err)
}

func TestKindsAreIndependentNamespaces(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSourceProvider("id", SourceProviderFactory{}))
	require.NoError(t, r.RegisterQueryEngine("id", QueryEngineFactory{}))
	require.NoError(t, r.RegisterServer("id", ServerFactory{}))
	require.NoError(t, r.RegisterStep("id", func(map[string]any) (any, error) { return nil, nil }))

	_, err := r.SourceProvider("id")
	assert.NoError(t, err)
	_, err = r.QueryEngine("id")
	assert.NoError(t, err)
	_, err = r.Server("id")
	assert.NoError(t, err)
	_, err = r.Step("id")
	assert.NoError(t, err)
}
