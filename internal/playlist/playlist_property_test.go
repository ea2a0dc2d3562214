package playlist

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestAddFindDeleteUnderRandomOps checks spec.md §8's playlist
// invariants ("P.find(P.add(p)) = index_of(p)"; "P.delete(i) keeps
// P.size but decreases not_deleted by 1") across arbitrary sequences of
// Add/Delete, including duplicate paths and re-adding deleted paths;
// only live indices are deleted.
func TestAddFindDeleteUnderRandomOps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := New()
		alive := map[int]bool{}

		pathGen := rapid.IntRange(0, 7).Map(func(n int) string { return fmt.Sprintf("/music/track-%d.mp3", n) })
		ops := rapid.SliceOfN(rapid.IntRange(0, 1), 0, 48).Draw(t, "ops")

		for _, op := range ops {
			switch op {
			case 0: // add
				path := pathGen.Draw(t, "path")
				i := p.Add(path)
				assert.Equal(t, i, p.FindByPath(path))
				alive[i] = true
			case 1: // delete a live index if any exist
				if len(alive) == 0 {
					continue
				}
				var target int
				for i := range alive {
					target = i
					break
				}
				notDeletedBefore := p.NotDeleted()
				p.Delete(target)
				delete(alive, target)
				assert.Equal(t, notDeletedBefore-1, p.NotDeleted())
			}
			assert.Equal(t, len(alive), p.NotDeleted())
		}
	})
}
