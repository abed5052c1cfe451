package graph

import "time"

// TimeIndex maps timestamps to the graph snapshot in force at that
// moment. FindFloor answers "which optimized graph applied when this
// transaction happened" with a predecessor search over an AVL tree,
// giving O(log n) inserts and lookups.
type TimeIndex struct {
	root *indexNode
	size int
}

type indexNode struct {
	key    time.Time
	value  *Graph
	left   *indexNode
	right  *indexNode
	height int
}

// NewTimeIndex creates an empty index.
func NewTimeIndex() *TimeIndex {
	return &TimeIndex{}
}

// Len returns the number of stored snapshots.
func (t *TimeIndex) Len() int {
	return t.size
}

// Insert registers a snapshot valid from ts onward. Inserting the same
// timestamp again replaces the stored snapshot.
func (t *TimeIndex) Insert(ts time.Time, g *Graph) {
	var grew bool
	t.root, grew = insertNode(t.root, ts, g)
	if grew {
		t.size++
	}
}

// FindFloor returns the snapshot with the largest timestamp at or
// before ts, or nil if ts precedes every stored snapshot.
func (t *TimeIndex) FindFloor(ts time.Time) *Graph {
	var found *Graph
	node := t.root
	for node != nil {
		if node.key.After(ts) {
			node = node.left
		} else {
			found = node.value
			node = node.right
		}
	}
	return found
}

func insertNode(node *indexNode, ts time.Time, g *Graph) (*indexNode, bool) {
	if node == nil {
		return &indexNode{key: ts, value: g, height: 1}, true
	}

	var grew bool
	switch {
	case ts.Before(node.key):
		node.left, grew = insertNode(node.left, ts, g)
	case ts.After(node.key):
		node.right, grew = insertNode(node.right, ts, g)
	default:
		node.value = g
		return node, false
	}

	node.height = 1 + max(height(node.left), height(node.right))
	return rebalance(node), grew
}

func height(node *indexNode) int {
	if node == nil {
		return 0
	}
	return node.height
}

func balanceFactor(node *indexNode) int {
	return height(node.left) - height(node.right)
}

func rebalance(node *indexNode) *indexNode {
	switch factor := balanceFactor(node); {
	case factor > 1:
		if balanceFactor(node.left) < 0 {
			node.left = rotateLeft(node.left)
		}
		return rotateRight(node)
	case factor < -1:
		if balanceFactor(node.right) > 0 {
			node.right = rotateRight(node.right)
		}
		return rotateLeft(node)
	}
	return node
}

func rotateRight(node *indexNode) *indexNode {
	pivot := node.left
	node.left = pivot.right
	pivot.right = node
	node.height = 1 + max(height(node.left), height(node.right))
	pivot.height = 1 + max(height(pivot.left), height(pivot.right))
	return pivot
}

func rotateLeft(node *indexNode) *indexNode {
	pivot := node.right
	node.right = pivot.left
	pivot.left = node
	node.height = 1 + max(height(node.left), height(node.right))
	pivot.height = 1 + max(height(pivot.left), height(pivot.right))
	return pivot
}
