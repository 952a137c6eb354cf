package payload

import (
	"math/rand"
	"strconv"
	"strings"

	"matrice/internal/domain/jsoncfg"
)

// MaxSeed is the exclusive upper bound of randomly drawn seeds.
const MaxSeed int64 = 2147483647

// ResolveSeed turns the seed input into the integer that will be sent and
// stored. An empty or unparseable input draws a random seed; fixed reports
// whether the user pinned the value.
func ResolveSeed(input string, rnd *rand.Rand) (seed int64, fixed bool) {
	if v, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64); err == nil {
		return v, true
	}
	return rnd.Int63n(MaxSeed), false
}

// BatchSeeds expands a resolved seed into one seed per batch entry.
func BatchSeeds(base int64, n int, mode string, rnd *rand.Rand) []int64 {
	if n < 1 {
		n = 1
	}
	seeds := make([]int64, n)
	for i := range seeds {
		if mode == jsoncfg.SeedModeRandom {
			seeds[i] = rnd.Int63n(MaxSeed)
			continue
		}
		seeds[i] = base + int64(i)
	}
	return seeds
}
