package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestFillBoundsUnderRandomOps exercises spec.md §8's ring/FIFO invariant
// ("∀ ring states: 0 ≤ fill ≤ size") under arbitrary interleavings of
// Put/Get/Clear, grounded on the teacher pack's rapid.Check style
// (doismellburning-samoyed's bitStuff property test).
func TestFillBoundsUnderRandomOps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 256).Draw(t, "size")
		f := New(size)

		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 0, 64).Draw(t, "ops")
		for i, op := range ops {
			switch op {
			case 0: // put
				n := rapid.IntRange(0, size*2).Draw(t, "putN")
				data := make([]byte, n)
				written := f.Put(data)
				assert.GreaterOrEqual(t, written, 0)
				assert.LessOrEqual(t, written, n)
			case 1: // get
				n := rapid.IntRange(0, size*2).Draw(t, "getN")
				out := make([]byte, n)
				read := f.Get(out)
				assert.LessOrEqual(t, read, n)
			case 2: // clear
				f.Clear()
			}
			assert.GreaterOrEqualf(t, f.Fill(), 0, "op %d: fill went negative", i)
			assert.LessOrEqualf(t, f.Fill(), f.Size(), "op %d: fill exceeded size", i)
			assert.Equal(t, f.Size(), f.Fill()+f.Space())
		}
	})
}
