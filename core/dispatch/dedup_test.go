package dispatch

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedup(t *testing.T) {
	t.Parallel()

	t.Run("reports repeated ids", func(t *testing.T) {
		t.Parallel()

		d := newDedup(10)

		assert.False(t, d.Seen("a"))
		assert.True(t, d.Seen("a"))
		assert.False(t, d.Seen("b"))
		assert.True(t, d.Seen("b"))
	})

	t.Run("evicts the oldest half at capacity", func(t *testing.T) {
		t.Parallel()

		d := newDedup(10)

		for i := 0; i < 11; i++ {
			d.Seen("id-" + strconv.Itoa(i))
		}

		// 11 insertions tripped one trim down to 6 tracked ids.
		assert.Equal(t, 6, d.Len())

		// The oldest ids were forgotten and read as new again.
		assert.False(t, d.Seen("id-0"))
		// Recent ids are still tracked.
		assert.True(t, d.Seen("id-10"))
	})
}
