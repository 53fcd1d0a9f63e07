package updater

import (
	"math"
	"testing"

	"github.com/chrissnell/snowrunner/internal/grid"
)

func TestDespike(t *testing.T) {
	tests := []struct {
		name      string
		halfWidth int
		spikes    [][2]int
		wantGone  int
	}{
		{"disabled", 0, [][2]int{{2, 2}}, 0},
		{"interior spike", 1, [][2]int{{2, 2}}, 1},
		{"corner spike", 1, [][2]int{{0, 0}}, 1},
		{"two spikes", 2, [][2]int{{1, 1}, {3, 4}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := grid.Filled(5, 6, 1.2)
			g.Set(4, 0, math.NaN())
			for _, s := range tt.spikes {
				g.Set(s[0], s[1], 40)
			}

			if got := Despike(g, tt.halfWidth, 0.5); got != tt.wantGone {
				t.Fatalf("removed %d cells, want %d", got, tt.wantGone)
			}
			if tt.wantGone == 0 {
				return
			}
			for _, s := range tt.spikes {
				if !math.IsNaN(g.At(s[0], s[1])) {
					t.Errorf("spike at %v kept", s)
				}
			}
			if g.At(0, 5) != 1.2 {
				t.Fatalf("plausible cell changed to %v", g.At(0, 5))
			}
		})
	}
}
