package canonicalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "whitespace only", input: "   \t ", want: ""},
		{name: "trim and lowercase", input: "  Spring Launch  ", want: "spring launch"},
		{name: "underscores become spaces", input: "Spring_Launch", want: "spring launch"},
		{name: "punctuation runs collapse", input: "BF//Promo!!", want: "bf promo"},
		{name: "percent encoded", input: "Summer%20Sale%20-%202024", want: "summer sale 2024"},
		{name: "encoded dash", input: "Retargeting%20%E2%80%93%20EU", want: "retargeting eu"},
		{name: "invalid escape kept", input: "100%_Off", want: "100 off"},
		{name: "plus sign separates", input: "Brand+Awareness", want: "brand awareness"},
		{name: "internal whitespace collapses", input: "a   \t  b", want: "a b"},
		{name: "unicode letters preserved", input: "Été Promo", want: "été promo"},
		{name: "digits preserved", input: "Q4-2024", want: "q4 2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeName_Idempotent(t *testing.T) {
	inputs := []string{"Summer%20Sale", "  A--B  ", "Été Promo", "x"}

	for _, in := range inputs {
		once := NormalizeName(in)
		assert.Equal(t, once, NormalizeName(once), "input %q", in)
	}
}
