package clickhouse

import (
	"fmt"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/leapstack-labs/leapbatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionString(t *testing.T) {
	tests := []struct {
		name     string
		params   core.ConnectionParams
		expected string
	}{
		{
			name:     "defaults",
			params:   core.ConnectionParams{},
			expected: "clickhouse://localhost:9000/",
		},
		{
			name: "credentials, timeout and settings",
			params: core.ConnectionParams{
				Host:     "ch.internal",
				Port:     9440,
				Database: "events",
				User:     "default",
				Password: "pw",
				Timeout:  5 * time.Second,
				Options: map[string]any{
					"secure":   true,
					"settings": map[string]any{"max_execution_time": "60"},
				},
			},
			expected: "clickhouse://default:pw@ch.internal:9440/events?dial_timeout=5s&max_execution_time=60&secure=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Factory{}.ConnectionString(tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)

			_, err = clickhouse.ParseDSN(got)
			assert.NoError(t, err)
		})
	}
}

func TestConnectionString_RoundTrip(t *testing.T) {
	dsn, err := Factory{}.ConnectionString(core.ConnectionParams{
		Host:     "ch",
		Database: "events",
		User:     "loader",
		Password: "secret",
		Timeout:  3 * time.Second,
	})
	require.NoError(t, err)

	opts, err := clickhouse.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, []string{"ch:9000"}, opts.Addr)
	assert.Equal(t, "events", opts.Auth.Database)
	assert.Equal(t, "loader", opts.Auth.Username)
	assert.Equal(t, "secret", opts.Auth.Password)
	assert.Equal(t, 3*time.Second, opts.DialTimeout)
}

func TestMappedError(t *testing.T) {
	c := &Connection{}
	be := c.MappedError(fmt.Errorf("exec: %w", &clickhouse.Exception{
		Code:    62,
		Name:    "DB::Exception",
		Message: "Syntax error: failed at position 10 ('FORM') (line 2, col 1): FORM t. Expected one of: ...",
	}))
	require.NotNil(t, be)
	assert.Equal(t, 62, be.Message.Number)
	assert.Equal(t, 2, be.Message.Line)
	assert.Contains(t, be.Message.Text, "DB::Exception: Syntax error")

	assert.Nil(t, c.MappedError(fmt.Errorf("dial tcp: refused")))
}
