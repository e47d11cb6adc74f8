package ftrace

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Node is a single function call. Placeholder nodes restoring a skipped
// nesting level have a zero Address.
type Node struct {
	Depth    uint8
	Address  uint64
	Elapsed  time.Duration
	Ended    bool
	Symbol   string
	Children []*Node
}

func (n *Node) IsPlaceholder() bool {
	return n.Address == 0
}

func (n *Node) HasSymbol() bool {
	return n.Symbol != ""
}

// Tree is the reconstructed call tree. The synthetic root used while
// building is not part of it, only its children are.
type Tree struct {
	Header   string
	Children []*Node
}

// Walk visits every node in pre-order. Returning false from fn skips the
// node's children.
func (t *Tree) Walk(fn func(n *Node) bool) {
	stack := make([]*Node, 0, len(t.Children))
	for i := len(t.Children) - 1; i >= 0; i-- {
		stack = append(stack, t.Children[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

func (t *Tree) Len() int {
	count := 0
	t.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// EntrySource yields trace entries and io.EOF at the end.
type EntrySource interface {
	Next() (RawEntry, error)
}

type buildOptions struct {
	fillDepthGaps bool
}

type BuildOption func(*buildOptions)

// WithPlaceholders restores skipped nesting levels with placeholder nodes
// instead of rejecting the start entry that skips them.
func WithPlaceholders() BuildOption {
	return func(o *buildOptions) { o.fillDepthGaps = true }
}

// Build reconstructs the call tree from entries. The stack holds every node
// still waiting for its end entry; stack[0] is the synthetic root.
func Build(header string, src EntrySource, opts ...BuildOption) (*Tree, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	root := &Node{}
	stack := []*Node{root}
	var index int

	for ; ; index++ {
		entry, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		top := stack[len(stack)-1]
		if entry.IsEnd() {
			if len(stack) == 1 {
				return nil, fmt.Errorf("%w: entry %d closes a call that was never opened", ErrDepthMismatch, index)
			}
			top.Elapsed = time.Duration(entry.Payload())
			top.Ended = true
			stack = stack[:len(stack)-1]
			continue
		}

		depth := entry.Depth()
		want := int(top.Depth) + 1
		if int(depth) < want || (!o.fillDepthGaps && int(depth) != want) {
			return nil, fmt.Errorf("%w: entry %d starts at depth %d, expected %d", ErrDepthMismatch, index, depth, want)
		}
		for d := want; d < int(depth); d++ {
			placeholder := &Node{Depth: uint8(d)}
			top.Children = append(top.Children, placeholder)
			stack = append(stack, placeholder)
			top = placeholder
		}

		node := &Node{Depth: depth, Address: entry.Payload()}
		top.Children = append(top.Children, node)
		stack = append(stack, node)
	}

	if open := len(stack) - 1; open > 0 {
		return nil, fmt.Errorf("%w: %d calls still open after %d entries", ErrPrematureEOF, open, index)
	}
	return &Tree{Header: header, Children: root.Children}, nil
}

// BuildFromFile reads the trace at path and reconstructs its call tree.
func BuildFromFile(path string, opts ...BuildOption) (*Tree, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	header, err := r.ReadHeader()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	tree, err := Build(header, r, opts...)
	if err != nil {
		return nil, fmt.Errorf("build tree from %s: %w", path, err)
	}
	return tree, nil
}
