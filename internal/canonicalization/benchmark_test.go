package canonicalization

import "testing"

func Benchmark_NormalizeName(b *testing.B) {
	if !testing.Short() {
		b.Skip("skipping benchmark in non-short mode")
	}

	names := []string{
		"Summer%20Sale%20-%202024",
		"  Spring_Launch  ",
		"Retargeting%20%E2%80%93%20EU",
		"BF//Promo!!",
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for _, n := range names {
			_ = NormalizeName(n)
		}
	}
}

func Benchmark_Canonical(b *testing.B) {
	if !testing.Short() {
		b.Skip("skipping benchmark in non-short mode")
	}

	p := Params{
		DatePreset: "last_30d",
		Breakdowns: []string{"gender", "age"},
		Fields:     []string{"spend", "impressions", "clicks"},
		Level:      "campaign",
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = Digest(p.Canonical())
	}
}
