package refresh

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(data string) SectionResult {
	return SectionResult{Data: json.RawMessage(data)}
}

func TestMerge(t *testing.T) {
	prev := Composite{"summary": result(`"old-summary"`), "orders": result(`"old-orders"`)}
	fresh := Composite{
		"summary":   result(`"new-summary"`),
		"campaigns": result(`"new-campaigns"`),
		"orders":    result(`null`),
		"ads":       {},
	}

	merged := Merge(prev, fresh)

	assert.Equal(t, `"new-summary"`, string(merged["summary"].Data), "succeeded sections overwrite")
	assert.Equal(t, `"new-campaigns"`, string(merged["campaigns"].Data))
	assert.Equal(t, `"old-orders"`, string(merged["orders"].Data), "empty results never clear data")
	assert.NotContains(t, merged, "ads")
	assert.Equal(t, `"old-summary"`, string(prev["summary"].Data), "inputs are not modified")
}

func TestMerge_NilInputs(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))
	assert.Len(t, Merge(nil, Composite{"a": result(`1`)}), 1)
	assert.Len(t, Merge(Composite{"a": result(`1`)}, nil), 1)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeForeground, mode)

	mode, err = ParseMode("background")
	require.NoError(t, err)
	assert.Equal(t, ModeBackground, mode)

	_, err = ParseMode("sideways")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestMode_Launches(t *testing.T) {
	assert.True(t, ModeForeground.launches(KindCore))
	assert.True(t, ModeForeground.launches(KindSlow))
	assert.False(t, ModeForeground.launches(KindExtra))
	assert.True(t, ModeBackground.launches(KindExtra))
}
