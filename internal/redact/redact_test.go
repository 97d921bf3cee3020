package redact_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/scry-cat/internal/redact"
)

func TestString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "nothing sensitive", input: "calibration finished in 3 rounds", expected: "calibration finished in 3 rounds"},
		{
			name:     "url dsn",
			input:    "failed to connect to postgres://cat:hunter22@db:5432/scrycat",
			expected: "failed to connect to postgres://[REDACTED_CREDENTIAL]@db:5432/scrycat",
		},
		{
			name:     "keyword dsn",
			input:    "host=db user=cat password=hunter22 dbname=scrycat",
			expected: "host=db user=cat password=[REDACTED_CREDENTIAL] dbname=scrycat",
		},
		{
			name:     "quoted password",
			input:    "password='a b c' sslmode=disable",
			expected: "password=[REDACTED_CREDENTIAL] sslmode=disable",
		},
		{
			name:     "api key",
			input:    "api_key=abcdef1234567890 rejected",
			expected: "[REDACTED_KEY] rejected",
		},
		{
			name:     "insert values",
			input:    "exec: INSERT INTO responses (id, person_id, fraction) VALUES ('a', 'b', 1) failed",
			expected: "exec: INSERT INTO responses (id, person_id, fraction) VALUES [SQL_VALUES_REDACTED] failed",
		},
		{
			name:     "where clause",
			input:    "query: SELECT id FROM scales WHERE id = 'abc'",
			expected: "query: SELECT id FROM scales WHERE [SQL_VALUES_REDACTED]",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, redact.String(tc.input))
		})
	}
}

func TestError(t *testing.T) {
	assert.Equal(t, "", redact.Error(nil))

	inner := errors.New("dial postgres://cat:hunter22@db/scrycat: refused")
	got := redact.Error(fmt.Errorf("open store: %w", inner))
	assert.Equal(t, "open store: dial postgres://[REDACTED_CREDENTIAL]@db/scrycat: refused", got)
	assert.NotContains(t, got, "hunter22")
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "url with password",
			input:    "postgres://cat:hunter22@db:5432/scrycat?sslmode=disable",
			expected: "postgres://cat:[REDACTED_CREDENTIAL]@db:5432/scrycat?sslmode=disable",
		},
		{
			name:     "url without password",
			input:    "postgres://cat@db/scrycat",
			expected: "postgres://cat@db/scrycat",
		},
		{
			name:     "sqlite file",
			input:    "file:scrycat.db?_pragma=foreign_keys(1)",
			expected: "file:scrycat.db?_pragma=foreign_keys(1)",
		},
		{
			name:     "keyword form",
			input:    "host=db password=hunter22",
			expected: "host=db password=[REDACTED_CREDENTIAL]",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, redact.DSN(tc.input))
		})
	}
}
