package annotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/VladMinzatu/optee-ftrace/internal/ftrace"
	"github.com/VladMinzatu/optee-ftrace/internal/symbolizer"
	"golang.org/x/sync/errgroup"
)

// Stats summarises one annotation pass. MissingModules counts distinct
// debug objects that could not be found.
type Stats struct {
	Nodes          int
	Resolved       int
	Unresolved     int
	MissingModules int
}

// Annotator attaches symbol names to the nodes of a call tree, resolving up
// to workers nodes concurrently. Resolution failures leave a node
// unresolved and never abort the pass.
type Annotator struct {
	resolver symbolizer.SymbolResolver
	workers  int
}

func NewAnnotator(resolver symbolizer.SymbolResolver, workers int) (*Annotator, error) {
	if resolver == nil {
		return nil, errors.New("resolver must not be nil")
	}
	if workers <= 0 {
		return nil, fmt.Errorf("invalid workers %d; must be > 0", workers)
	}
	return &Annotator{resolver: resolver, workers: workers}, nil
}

// Annotate resolves every non-placeholder node of tree. The only error
// returned is the context's, in which case some nodes may be left without
// a symbol.
func (a *Annotator) Annotate(ctx context.Context, tree *ftrace.Tree) (Stats, error) {
	var (
		nodes, resolved atomic.Int64
		missing         sync.Map // debug object filename -> struct{}
		missingCount    atomic.Int64
	)

	g := new(errgroup.Group)
	g.SetLimit(a.workers)

	tree.Walk(func(n *ftrace.Node) bool {
		if ctx.Err() != nil {
			return false
		}
		if n.IsPlaceholder() {
			return true
		}
		nodes.Add(1)
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			name, ok, err := a.resolver.Resolve(n.Address)
			if err != nil {
				var notFound *symbolizer.ModuleNotFoundError
				if errors.As(err, &notFound) {
					if _, seen := missing.LoadOrStore(notFound.Filename, struct{}{}); !seen {
						missingCount.Add(1)
						slog.Warn("Debug object not found; its addresses stay unresolved", "module", notFound.Filename)
					}
					return nil
				}
				slog.Debug("Failed to resolve address", "addr", n.Address, "error", err)
				return nil
			}
			if ok {
				n.Symbol = name
				resolved.Add(1)
			}
			return nil
		})
		return true
	})
	_ = g.Wait()

	stats := Stats{
		Nodes:          int(nodes.Load()),
		Resolved:       int(resolved.Load()),
		MissingModules: int(missingCount.Load()),
	}
	stats.Unresolved = stats.Nodes - stats.Resolved
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	slog.Info("Annotation finished", "nodes", stats.Nodes, "resolved", stats.Resolved, "unresolved", stats.Unresolved, "missing_modules", stats.MissingModules)
	return stats, nil
}
