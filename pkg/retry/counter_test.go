package retry

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestCounter(t *testing.T) {
	c := NewCounter(map[OperationClass]int{
		ClassQuote:     2,
		ClassExecution: 1,
	})

	assert.Equal(t, 0, c.Count(ClassQuote))
	assert.False(t, c.Exceeded(ClassQuote))

	st := c.Increment(ClassQuote)
	assert.Equal(t, 1, st.Count)
	assert.False(t, st.LastAttempt.IsZero())

	c.Increment(ClassQuote)
	assert.False(t, c.Exceeded(ClassQuote), "count equal to ceiling is still allowed")
	assert.True(t, c.Reached(ClassQuote))

	c.Increment(ClassQuote)
	assert.True(t, c.Exceeded(ClassQuote))

	c.Increment(ClassExecution)
	assert.Equal(t, 1, c.Snapshot()[ClassExecution].Count)

	c.Reset(ClassQuote)
	assert.Equal(t, 0, c.Count(ClassQuote))
	assert.Equal(t, 1, c.Count(ClassExecution))

	c.ResetAll()
	assert.Empty(t, c.Snapshot())
	assert.Equal(t, DefaultQuoteCeiling, c.Ceiling(ClassCompletion))
}

// TestCounterTracksConsecutiveFailures checks that the count equals the failures since the last reset
func TestCounterTracksConsecutiveFailures(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("count equals consecutive failures since last success", prop.ForAll(
		func(outcomes []bool) bool {
			c := NewCounter(map[OperationClass]int{ClassQuote: 3})
			consecutive := 0
			for _, failed := range outcomes {
				if failed {
					c.Increment(ClassQuote)
					consecutive++
				} else {
					c.Reset(ClassQuote)
					consecutive = 0
				}
				if c.Count(ClassQuote) != consecutive {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
