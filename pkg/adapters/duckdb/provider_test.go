package duckdb

import (
	"context"
	"log/slog"
	"testing"

	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T, opts map[string]any) adapter.Connection {
	t.Helper()
	conn, err := Factory{}.Open(context.Background(), core.ConnectionParams{Options: opts}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func queryScalar(t *testing.T, conn adapter.Connection, sql string) any {
	t.Helper()
	rs, err := conn.Execute(context.Background(), conn.CreateCommand(sql))
	require.NoError(t, err)
	defer func() { _ = rs.Close() }()
	require.True(t, rs.NextResultSet())
	require.True(t, rs.Next())
	vals, err := rs.Values()
	require.NoError(t, err)
	return vals[0]
}

func TestConnectionString(t *testing.T) {
	dsn, err := Factory{}.ConnectionString(core.ConnectionParams{})
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)

	dsn, err = Factory{}.ConnectionString(core.ConnectionParams{Database: "/data/warehouse.duckdb"})
	require.NoError(t, err)
	assert.Equal(t, "/data/warehouse.duckdb", dsn)
}

func TestOpen_WithSettings(t *testing.T) {
	conn := openMemory(t, map[string]any{
		"settings": map[string]any{"threads": "2"},
	})
	assert.Equal(t, "2", queryScalar(t, conn, "SELECT current_setting('threads')::VARCHAR"))
}

func TestOpen_WithExtension(t *testing.T) {
	conn := openMemory(t, map[string]any{"extensions": []any{"json"}})
	got := queryScalar(t, conn, "SELECT extension_name FROM duckdb_extensions() WHERE loaded AND extension_name = 'json'")
	assert.Equal(t, "json", got)
}

func TestExecute_MultipleStatements(t *testing.T) {
	conn := openMemory(t, nil)
	rs, err := conn.Execute(context.Background(), conn.CreateCommand("CREATE TABLE t AS SELECT 42 AS answer"))
	require.NoError(t, err)
	require.NoError(t, rs.Close())

	assert.EqualValues(t, 42, queryScalar(t, conn, "SELECT answer FROM t"))
}

func TestMappedError(t *testing.T) {
	conn := openMemory(t, nil)
	_, err := conn.Execute(context.Background(), conn.CreateCommand("SELECT 1\nFORM nowhere"))
	require.Error(t, err)

	be := conn.MappedError(err)
	require.NotNil(t, be)
	assert.Equal(t, core.SeverityError, be.Message.Severity)
	assert.Equal(t, 2, be.Message.Line)
}

func TestInitStatements(t *testing.T) {
	p := &Params{
		Extensions: []string{"httpfs"},
		Settings:   map[string]string{"threads": "4", "memory_limit": "1GB"},
		Secrets:    []SecretConfig{{Type: "s3", Provider: "credential_chain"}},
	}
	assert.Equal(t, []string{
		"INSTALL httpfs",
		"LOAD httpfs",
		"SET memory_limit = '1GB'",
		"SET threads = '4'",
		"CREATE SECRET (\n    TYPE s3,\n    PROVIDER credential_chain\n)",
	}, p.initStatements())
}

func TestBuildCreateSecretSQL(t *testing.T) {
	useSSL := false
	tests := []struct {
		name string
		cfg  SecretConfig
		want string
	}{
		{
			name: "type only",
			cfg:  SecretConfig{Type: "s3"},
			want: "CREATE SECRET (\n    TYPE s3\n)",
		},
		{
			name: "single scope with region",
			cfg:  SecretConfig{Type: "s3", Region: "eu-central-1", Scope: "s3://my-bucket"},
			want: "CREATE SECRET (\n    TYPE s3,\n    REGION 'eu-central-1',\n    SCOPE 's3://my-bucket'\n)",
		},
		{
			name: "scope list",
			cfg:  SecretConfig{Type: "s3", Scope: []any{"s3://a", "s3://b"}},
			want: "CREATE SECRET (\n    TYPE s3,\n    SCOPE ('s3://a', 's3://b')\n)",
		},
		{
			name: "s3 compatible endpoint",
			cfg: SecretConfig{
				Type:     "s3",
				Provider: "config",
				KeyID:    "minio",
				Secret:   "it's",
				Endpoint: "localhost:9000",
				URLStyle: "path",
				UseSSL:   &useSSL,
			},
			want: "CREATE SECRET (\n    TYPE s3,\n    PROVIDER config,\n    KEY_ID 'minio',\n    SECRET 'it''s',\n" +
				"    ENDPOINT 'localhost:9000',\n    URL_STYLE 'path',\n    USE_SSL false\n)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildCreateSecretSQL(tt.cfg))
		})
	}
}
