package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionFind(t *testing.T) {
	t.Run("starts with singleton sets", func(t *testing.T) {
		uf := NewUnionFind(4)

		for i := 0; i < 4; i++ {
			assert.Equal(t, i, uf.Find(i))
		}
		assert.NotEqual(t, uf.Find(0), uf.Find(1))
	})

	t.Run("union joins two sets once", func(t *testing.T) {
		uf := NewUnionFind(3)

		assert.True(t, uf.Union(0, 1))
		assert.False(t, uf.Union(0, 1))
		assert.Equal(t, uf.Find(0), uf.Find(1))
		assert.NotEqual(t, uf.Find(0), uf.Find(2))
	})

	t.Run("connectivity is transitive", func(t *testing.T) {
		uf := NewUnionFind(5)

		uf.Union(0, 1)
		uf.Union(1, 2)
		uf.Union(3, 4)

		assert.Equal(t, uf.Find(0), uf.Find(2))
		assert.Equal(t, uf.Find(2), uf.Find(0))
		assert.NotEqual(t, uf.Find(2), uf.Find(3))

		assert.True(t, uf.Union(2, 4))
		assert.Equal(t, uf.Find(0), uf.Find(3))
	})

	t.Run("members of one set share a root", func(t *testing.T) {
		uf := NewUnionFind(6)

		uf.Union(0, 1)
		uf.Union(2, 3)
		uf.Union(1, 3)

		root := uf.Find(0)
		for _, i := range []int{1, 2, 3} {
			assert.Equal(t, root, uf.Find(i))
		}
		assert.NotEqual(t, root, uf.Find(4))
		assert.NotEqual(t, root, uf.Find(5))
	})
}
