package domain

import "testing"

func TestKDRatio(t *testing.T) {
	cases := []struct {
		kills, deaths int64
		want          float64
	}{
		{10, 5, 2},
		{10, 0, 10}, // zero deaths never divides by zero
		{0, 7, 0},
		{3, 1, 3},
	}
	for _, tc := range cases {
		p := PlayerStats{Kills: tc.kills, Deaths: tc.deaths}
		if got := p.KDRatio(); got != tc.want {
			t.Errorf("KDRatio(%d/%d) = %v, want %v", tc.kills, tc.deaths, got, tc.want)
		}
	}
}
