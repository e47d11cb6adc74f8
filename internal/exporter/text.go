package exporter

import (
	"fmt"
	"io"
	"time"

	"github.com/VladMinzatu/optee-ftrace/internal/ftrace"
	"github.com/xlab/treeprint"
)

const defaultTitle = "Function graph"

// RenderText writes the call tree with one line per call:
//
//	name() elapsed (self: x) [p%]
//
// where p is relative to the total time of the top-level calls.
func RenderText(w io.Writer, title string, tree *ftrace.Tree) error {
	if title == "" {
		title = defaultTitle
	}
	total := TotalElapsed(tree)

	root := treeprint.NewWithRoot(title)
	branches := []treeprint.Tree{root}
	WalkStacks(tree, func(path []*ftrace.Node) {
		// path has one more element than the branches of its ancestors
		branches = branches[:len(path)]
		n := path[len(path)-1]
		parent := branches[len(branches)-1]
		branches = append(branches, parent.AddBranch(textLine(n, total)))
	})

	_, err := io.WriteString(w, root.String())
	return err
}

func textLine(n *ftrace.Node, total time.Duration) string {
	return fmt.Sprintf("%s() %s (self: %s) [%.2f%%]", FrameName(n), n.Elapsed, SelfTime(n), percentOf(n.Elapsed, total))
}

func percentOf(d, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(d) / float64(total) * 100
}
