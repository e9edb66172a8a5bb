package ids

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestValidateProperty verifies spec.md §8 invariant 6: "For all UUIDv7 ids
// validated by the gateway, parsing succeeds and the embedded timestamp is
// <= now." Grounded on the teacher pack's gopter property style
// (goadesign-goa-ai/codegen/shared/patch_utils_property_test.go).
func TestValidateProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a freshly minted id always validates against any later clock reading", prop.ForAll(
		func(skewMillis int) bool {
			id, err := New()
			if err != nil {
				return false
			}
			skew := time.Duration(abs(skewMillis)) * time.Millisecond
			now := time.Now().Add(skew)

			validated, err := Validate(id.String(), now)
			if err != nil {
				return false
			}
			return validated == id
		},
		gen.IntRange(0, 60_000),
	))

	properties.Property("a timestamp strictly in the future always fails validation", prop.ForAll(
		func(futureMillis int) bool {
			id, err := New()
			if err != nil {
				return false
			}
			mintedAt, err := Timestamp(id)
			if err != nil {
				return false
			}
			past := mintedAt.Add(-time.Duration(futureMillis+1) * time.Millisecond)

			_, err = Validate(id.String(), past)
			return err != nil
		},
		gen.IntRange(0, 60_000),
	))

	properties.Property("Timestamp is stable under round-trip through string form", prop.ForAll(
		func(_ bool) bool {
			id, err := New()
			if err != nil {
				return false
			}
			reparsed, err := Validate(id.String(), time.Now().Add(time.Second))
			if err != nil {
				return false
			}
			t1, err1 := Timestamp(id)
			t2, err2 := Timestamp(reparsed)
			if err1 != nil || err2 != nil {
				return false
			}
			return t1.Equal(t2)
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
