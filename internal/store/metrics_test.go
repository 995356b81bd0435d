package store

import "testing"

func TestRound(t *testing.T) {
	cases := []struct {
		v      float64
		places int
		want   float64
	}{
		{5.0000004, 6, 5.0},
		{5.0000006, 6, 5.000001},
		{7.0 / 3.0, 3, 2.333},
		{12.3456, 3, 12.346},
		{0, 6, 0},
		{-1.25, 1, -1.3},
	}
	for _, c := range cases {
		if got := round(c.v, c.places); got != c.want {
			t.Fatalf("round(%v, %d) = %v, want %v", c.v, c.places, got, c.want)
		}
	}
}

func TestStageTotalsAverage(t *testing.T) {
	// avg written to the metric row is total/count at the stored precision
	totals := StageTotals{Count: 3, Total: 7}
	avg := round(totals.Total/float64(totals.Count), 3)
	if avg != 2.333 {
		t.Fatalf("avg = %v", avg)
	}
}
