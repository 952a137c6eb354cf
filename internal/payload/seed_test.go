package payload

import (
	"math/rand"
	"testing"

	"matrice/internal/domain/jsoncfg"
)

func TestResolveSeedParsesInput(t *testing.T) {
	seed, fixed := ResolveSeed(" 42 ", rand.New(rand.NewSource(1)))
	if seed != 42 || !fixed {
		t.Fatalf("ResolveSeed = %d,%v want 42,true", seed, fixed)
	}
}

func TestResolveSeedRandomizesEmptyAndInvalid(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, in := range []string{"", "random", "4.2"} {
		seed, fixed := ResolveSeed(in, rnd)
		if fixed {
			t.Fatalf("ResolveSeed(%q) reported a fixed seed", in)
		}
		if seed < 0 || seed >= MaxSeed {
			t.Fatalf("ResolveSeed(%q) = %d, out of range", in, seed)
		}
	}
}

func TestBatchSeedsIncrement(t *testing.T) {
	got := BatchSeeds(100, 3, jsoncfg.SeedModeIncrement, rand.New(rand.NewSource(1)))
	want := []int64{100, 101, 102}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("BatchSeeds = %v, want %v", got, want)
		}
	}
}

func TestBatchSeedsRandom(t *testing.T) {
	got := BatchSeeds(100, 4, jsoncfg.SeedModeRandom, rand.New(rand.NewSource(7)))
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for _, s := range got {
		if s < 0 || s >= MaxSeed {
			t.Fatalf("seed %d out of range", s)
		}
	}
}

func TestBatchSeedsMinimumOne(t *testing.T) {
	if got := BatchSeeds(5, 0, jsoncfg.SeedModeIncrement, rand.New(rand.NewSource(1))); len(got) != 1 || got[0] != 5 {
		t.Fatalf("BatchSeeds = %v, want [5]", got)
	}
}
