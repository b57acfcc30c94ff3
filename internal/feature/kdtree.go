package feature

import (
	"math"
	"sort"
	"sync"
)

// Point is one indexed vector with the id of the record it encodes.
type Point struct {
	ID     string
	Vector []float64
}

type treeNode struct {
	point       Point
	axis        int
	left, right *treeNode
}

// Tree is a balanced binary spatial tree over fixed-length vectors. The
// splitting axis cycles with depth (axis = depth mod dimensions).
// Incremental inserts are O(log n) amortized while the tree stays
// balanced; Rebuild restores balance in O(n log n).
type Tree struct {
	mu       sync.RWMutex
	root     *treeNode
	dims     int
	size     int
	maxDepth int
}

// NewTree creates an empty tree over vectors of the given length.
func NewTree(dims int) *Tree {
	return &Tree{dims: dims}
}

// Size returns the number of indexed points.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Insert adds a single point without rebalancing.
func (t *Tree) Insert(p Point) {
	t.mu.Lock()
	defer t.mu.Unlock()

	depth := 0
	node := &treeNode{point: p}
	if t.root == nil {
		node.axis = 0
		t.root = node
	} else {
		cur := t.root
		for {
			depth++
			if p.Vector[cur.axis] < cur.point.Vector[cur.axis] {
				if cur.left == nil {
					node.axis = (cur.axis + 1) % t.dims
					cur.left = node
					break
				}
				cur = cur.left
			} else {
				if cur.right == nil {
					node.axis = (cur.axis + 1) % t.dims
					cur.right = node
					break
				}
				cur = cur.right
			}
		}
	}
	t.size++
	if depth > t.maxDepth {
		t.maxDepth = depth
	}
}

// Rebuild replaces the tree contents with a balanced tree over points.
func (t *Tree) Rebuild(points []Point) {
	t.mu.Lock()
	defer t.mu.Unlock()

	own := make([]Point, len(points))
	copy(own, points)
	t.root = build(own, 0, t.dims)
	t.size = len(own)
	t.maxDepth = balancedDepth(len(own))
}

// NeedsRebuild reports whether the tree has grown deeper than factor
// times the balanced depth for its size.
func (t *Tree) NeedsRebuild(factor float64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.size < 8 {
		return false
	}
	return float64(t.maxDepth) > factor*float64(balancedDepth(t.size))
}

// Nearest returns up to k nearest neighbors of query by squared
// Euclidean distance, closest first. A subtree is pruned only when the
// splitting hyperplane distance exceeds the current k-th best distance.
func (t *Tree) Nearest(query []float64, k int) []Neighbor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if k <= 0 || t.root == nil {
		return nil
	}
	best := newNeighborHeap(k)
	t.search(t.root, query, best)
	return best.sorted()
}

func (t *Tree) search(n *treeNode, query []float64, best *neighborHeap) {
	if n == nil {
		return
	}

	best.offer(Neighbor{ID: n.point.ID, DistSq: distSq(query, n.point.Vector)})

	diff := query[n.axis] - n.point.Vector[n.axis]
	near, far := n.left, n.right
	if diff >= 0 {
		near, far = n.right, n.left
	}

	t.search(near, query, best)
	if !best.full() || diff*diff < best.worst() {
		t.search(far, query, best)
	}
}

// build constructs a balanced subtree by splitting on the median of the
// coordinate for the current axis.
func build(points []Point, depth, dims int) *treeNode {
	if len(points) == 0 {
		return nil
	}
	axis := depth % dims

	sort.Slice(points, func(i, j int) bool {
		if points[i].Vector[axis] != points[j].Vector[axis] {
			return points[i].Vector[axis] < points[j].Vector[axis]
		}
		return points[i].ID < points[j].ID
	})
	mid := len(points) / 2

	return &treeNode{
		point: points[mid],
		axis:  axis,
		left:  build(points[:mid], depth+1, dims),
		right: build(points[mid+1:], depth+1, dims),
	}
}

func balancedDepth(n int) int {
	if n <= 1 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(n + 1))))
}

func distSq(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
