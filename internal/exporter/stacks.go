package exporter

import (
	"fmt"
	"time"

	"github.com/VladMinzatu/optee-ftrace/internal/ftrace"
)

// FrameName is the display name of a call: its symbol, or the raw address
// when it was not resolved.
func FrameName(n *ftrace.Node) string {
	if n.HasSymbol() {
		return n.Symbol
	}
	return fmt.Sprintf("0x%016x", n.Address)
}

// SelfTime is the time spent in n itself, excluding its children. It is
// zero when the children add up to more than n.
func SelfTime(n *ftrace.Node) time.Duration {
	self := n.Elapsed
	for _, c := range n.Children {
		self -= c.Elapsed
	}
	if self < 0 {
		return 0
	}
	return self
}

// TotalElapsed sums the elapsed time of the top-level calls.
func TotalElapsed(tree *ftrace.Tree) time.Duration {
	var total time.Duration
	for _, n := range tree.Children {
		total += n.Elapsed
	}
	return total
}

type cursor struct {
	children []*ftrace.Node
	next     int
}

// WalkStacks visits every node in pre-order together with its call path,
// root first. path is reused between calls and must not be retained.
func WalkStacks(tree *ftrace.Tree, fn func(path []*ftrace.Node)) {
	cursors := []cursor{{children: tree.Children}}
	path := make([]*ftrace.Node, 0, 64)
	for len(cursors) > 0 {
		top := &cursors[len(cursors)-1]
		if top.next == len(top.children) {
			cursors = cursors[:len(cursors)-1]
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
			continue
		}
		n := top.children[top.next]
		top.next++
		path = append(path, n)
		fn(path)
		cursors = append(cursors, cursor{children: n.Children})
	}
}
