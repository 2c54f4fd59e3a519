package commitfit

import (
	"slices"
	"testing"
)

func TestRenewalMask(t *testing.T) {
	tests := []struct {
		periods, period int
		want            []int
	}{
		{4, 2, []int{1, 0, 1}},
		{6, 3, []int{0, 1, 0, 0, 1}},
		{12, 3, []int{0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1}},
		{3, 1, []int{1, 1}},
		{1, 3, []int{}},
	}

	for _, tt := range tests {
		got := RenewalMask(tt.periods, tt.period)
		if !slices.Equal(got, tt.want) {
			t.Errorf("RenewalMask(%d, %d) = %v, want %v", tt.periods, tt.period, got, tt.want)
		}
		if len(got) != max(tt.periods-1, 0) {
			t.Errorf("RenewalMask(%d, %d) has length %d", tt.periods, tt.period, len(got))
		}
	}
}

func TestRenewalMask_FlagCount(t *testing.T) {
	// With T a multiple of R ≥ 2 each renewal period has one flagged transition.
	for _, r := range []int{2, 3, 4, 6} {
		mask := RenewalMask(12, r)
		if got, want := flaggedCount(mask), 12/r; got != want {
			t.Errorf("R=%d: %d flagged transitions, want %d", r, got, want)
		}
	}
}
