package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvGetters(t *testing.T) {
	t.Setenv("ADLENS_TEST_STR", "value")
	t.Setenv("ADLENS_TEST_INT", " 42 ")
	t.Setenv("ADLENS_TEST_BAD_INT", "forty-two")
	t.Setenv("ADLENS_TEST_FLOAT", "2.5")
	t.Setenv("ADLENS_TEST_BOOL", "YES")
	t.Setenv("ADLENS_TEST_DURATION", "90s")
	t.Setenv("ADLENS_TEST_LEVEL", "warning")

	assert.Equal(t, "value", GetEnvStr("ADLENS_TEST_STR", "default"))
	assert.Equal(t, "default", GetEnvStr("ADLENS_TEST_UNSET", "default"))
	assert.Equal(t, 42, GetEnvInt("ADLENS_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("ADLENS_TEST_BAD_INT", 1))
	assert.Equal(t, int64(42), GetEnvInt64("ADLENS_TEST_INT", 1))
	assert.InDelta(t, 2.5, GetEnvFloat("ADLENS_TEST_FLOAT", 1), 0.0001)
	assert.True(t, GetEnvBool("ADLENS_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, GetEnvDuration("ADLENS_TEST_DURATION", time.Second))
	assert.Equal(t, slog.LevelWarn, GetEnvLogLevel("ADLENS_TEST_LEVEL", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, GetEnvLogLevel("ADLENS_TEST_UNSET", slog.LevelInfo))
}

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: []string{}},
		{name: "single", input: "a", want: []string{"a"}},
		{name: "trims and drops empties", input: " a , ,b,", want: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommaSeparatedList(tt.input))
		})
	}
}

func TestParseKeyValueList(t *testing.T) {
	got := ParseKeyValueList("store-1=tok1, store-2 = tok2 ,broken,=orphan,store-1=tok3")

	assert.Equal(t, map[string]string{
		"store-1": "tok3",
		"store-2": "tok2",
	}, got)
	assert.Empty(t, ParseKeyValueList(""))
}
