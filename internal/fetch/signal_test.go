package fetch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonZeroSignal(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{name: "numeric string metric", payload: `[{"spend":"12.50"}]`, want: true},
		{name: "number metric", payload: `{"data":[{"clicks":4}]}`, want: true},
		{name: "all zero", payload: `[{"spend":"0.00","clicks":0,"impressions":"0"}]`, want: false},
		{name: "ids ignored", payload: `[{"id":"999","account_id":"123","spend":"0"}]`, want: false},
		{name: "dates ignored", payload: `[{"date_start":"2024","date_stop":"2025"}]`, want: false},
		{name: "nested", payload: `{"summary":{"totals":{"purchases":"2"}}}`, want: true},
		{name: "empty list", payload: `[]`, want: false},
		{name: "non-numeric strings", payload: `[{"name":"Summer Sale"}]`, want: false},
		{name: "invalid json", payload: `{`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NonZeroSignal(json.RawMessage(tt.payload)))
		})
	}
}
