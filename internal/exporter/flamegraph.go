package exporter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/VladMinzatu/optee-ftrace/internal/ftrace"
)

// BuildFoldedStacks aggregates the self time in nanoseconds of every call
// path of the tree, keyed by the root-to-leaf folded stack.
func BuildFoldedStacks(tree *ftrace.Tree) map[string]uint64 {
	agg := make(map[string]uint64)
	var sb strings.Builder
	WalkStacks(tree, func(path []*ftrace.Node) {
		self := SelfTime(path[len(path)-1])
		if self <= 0 {
			return
		}
		sb.Reset()
		for i, n := range path {
			if i > 0 {
				sb.WriteByte(';')
			}
			sb.WriteString(escapeFoldedName(FrameName(n)))
		}
		agg[sb.String()] += uint64(self.Nanoseconds())
	})
	return agg
}

func escapeFoldedName(name string) string {
	// semicolons separate frames and newlines separate lines. Replace them with safe characters.
	name = strings.ReplaceAll(name, ";", "_")
	name = strings.ReplaceAll(name, "\n", " ")
	// the weight is separated from the stack by the last space
	name = strings.TrimSpace(name)
	if name == "" {
		return "<unknown>"
	}
	return name
}

// WriteFoldedStacks writes one "stack weight" line per entry, heaviest
// first.
func WriteFoldedStacks(w io.Writer, agg map[string]uint64) error {
	type kv struct {
		k string
		v uint64
	}
	items := make([]kv, 0, len(agg))
	for k, v := range agg {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v == items[j].v {
			return items[i].k < items[j].k
		}
		return items[i].v > items[j].v
	})

	bw := bufio.NewWriter(w)
	for _, it := range items {
		if _, err := fmt.Fprintf(bw, "%s %d\n", it.k, it.v); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func WriteFoldedStacksToFile(agg map[string]uint64, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteFoldedStacks(f, agg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
