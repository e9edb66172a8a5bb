// Package variant implements function→variant resolution (spec §4.3) and the
// ChatCompletion variant render pipeline; the DICL variant renders in
// features/dicl.
package variant

import (
	"encoding/binary"
	"sort"

	"github.com/google/uuid"

	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/errors"
)

// Select deterministically samples a variant from fc's configured variants,
// weighted by each variant's Weight and seeded by episodeID so repeated
// inferences within the same episode consistently land on the same variant
// (spec §4.3 "episode-id-seeded deterministic weighted sampling"). Variants
// with weight 0 are eligible only when every variant has weight 0, in which
// case selection falls back to uniform sampling over all of them.
func Select(fc *config.FunctionConfig, episodeID uuid.UUID) (string, config.Variant, error) {
	name, v, err := SelectFrom(fc.Variants, episodeID)
	if err != nil {
		return "", nil, errors.Wrap(errors.KindConfig, err, "function %q", fc.Name)
	}
	return name, v, nil
}

// SelectFrom is Select generalized to an arbitrary candidate subset of a
// function's variants, used by the resolver's failover loop (spec §4.3 step
// 4: "on failure, remove that variant and resample") to resample only the
// variants that haven't already failed this inference.
func SelectFrom(candidates map[string]config.Variant, episodeID uuid.UUID) (string, config.Variant, error) {
	if len(candidates) == 0 {
		return "", nil, errors.New(errors.KindAllVariantsFailed, "no candidate variants remain")
	}

	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0.0
	for _, name := range names {
		total += candidates[name].Weight()
	}

	seed := seedFromEpisode(episodeID)
	point := sampleUnit(seed) * total
	if total == 0 {
		point = sampleUnit(seed) * float64(len(names))
		idx := int(point)
		if idx >= len(names) {
			idx = len(names) - 1
		}
		return names[idx], candidates[names[idx]], nil
	}

	cursor := 0.0
	for _, name := range names {
		cursor += candidates[name].Weight()
		if point < cursor {
			return name, candidates[name], nil
		}
	}
	last := names[len(names)-1]
	return last, candidates[last], nil
}

// seedFromEpisode derives a 64-bit seed from the first 8 bytes of the
// episode UUID, giving deterministic-per-episode but unpredictable-across-
// episodes sampling.
func seedFromEpisode(episodeID uuid.UUID) uint64 {
	return binary.BigEndian.Uint64(episodeID[:8])
}

// sampleUnit maps a seed to [0, 1) using a fixed-point xorshift mix so the
// same seed always produces the same sample without requiring a stateful
// PRNG (spec forbids any source of randomness that can't be replayed from
// the episode id alone).
func sampleUnit(seed uint64) float64 {
	x := seed
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	return float64(x%1_000_000_007) / 1_000_000_007.0
}
