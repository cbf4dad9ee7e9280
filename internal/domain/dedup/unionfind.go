package dedup

// UnionFind is a disjoint-set forest over integer indices with path
// compression and union by rank. Grouping uses it to close shared-identifier
// links transitively without re-scanning per field.
type UnionFind struct {
	parent []int
	rank   []int
}

// NewUnionFind returns a forest of n singleton sets, one per index.
func NewUnionFind(n int) *UnionFind {
	uf := &UnionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

// Find returns the root of the set containing i, compressing the path on the
// way up.
func (u *UnionFind) Find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// Union merges the sets containing a and b. It reports whether two distinct
// sets were actually joined.
func (u *UnionFind) Union(a, b int) bool {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return false
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
	return true
}
