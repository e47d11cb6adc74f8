package annotator

import (
	"context"
	"log/slog"
	"time"

	"github.com/VladMinzatu/optee-ftrace/internal/ftrace"
)

// cancelCheckInterval is the number of entries read between context checks.
const cancelCheckInterval = 4096

type LoadResult struct {
	Tree *ftrace.Tree
	Err  error
}

// LoadTree reads the trace at path and builds its call tree on a separate
// goroutine. Exactly one result is delivered on the returned channel, which
// is then closed. The tree is not touched by the loader after delivery.
func LoadTree(ctx context.Context, path string, opts ...ftrace.BuildOption) <-chan LoadResult {
	out := make(chan LoadResult, 1)
	go func() {
		defer close(out)
		start := time.Now()
		tree, err := loadTree(ctx, path, opts...)
		if err != nil {
			slog.Debug("Trace loading failed", "path", path, "error", err)
			out <- LoadResult{Err: err}
			return
		}
		slog.Info("Trace loaded", "path", path, "nodes", tree.Len(), "duration", time.Since(start))
		out <- LoadResult{Tree: tree}
	}()
	return out
}

func loadTree(ctx context.Context, path string, opts ...ftrace.BuildOption) (*ftrace.Tree, error) {
	r, err := ftrace.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	header, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}
	return ftrace.Build(header, &ctxSource{ctx: ctx, src: r}, opts...)
}

// ctxSource stops the entry stream once ctx is done.
type ctxSource struct {
	ctx   context.Context
	src   ftrace.EntrySource
	count int
}

func (s *ctxSource) Next() (ftrace.RawEntry, error) {
	s.count++
	if s.count%cancelCheckInterval == 0 {
		if err := s.ctx.Err(); err != nil {
			return 0, err
		}
	}
	return s.src.Next()
}
