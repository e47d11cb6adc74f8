package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/VladMinzatu/optee-ftrace/internal/annotator"
	"github.com/VladMinzatu/optee-ftrace/internal/exporter"
	"github.com/VladMinzatu/optee-ftrace/internal/ftrace"
	"github.com/VladMinzatu/optee-ftrace/internal/pprof"
	"github.com/VladMinzatu/optee-ftrace/internal/symbolizer"
)

const otlpExportTimeout = 30 * time.Second

func run(ctx context.Context, cfg *Config, stdout io.Writer) error {
	var opts []ftrace.BuildOption
	if cfg.FillDepthGaps {
		opts = append(opts, ftrace.WithPlaceholders())
	}

	res := <-annotator.LoadTree(ctx, cfg.TraceFile, opts...)
	if res.Err != nil {
		return fmt.Errorf("load trace: %w", res.Err)
	}
	tree := res.Tree

	md, err := symbolizer.ParseMetadata(tree.Header)
	if err != nil {
		return fmt.Errorf("parse trace header: %w", err)
	}

	if len(cfg.ELF) == 0 {
		slog.Info("No debug objects given; addresses are left unresolved")
	} else if err := annotate(ctx, cfg, md, tree); err != nil {
		return err
	}

	return export(ctx, cfg, md.Title, tree, stdout)
}

func annotate(ctx context.Context, cfg *Config, md *symbolizer.Metadata, tree *ftrace.Tree) error {
	resolver := symbolizer.NewResolver(md, cfg.ELF, symbolizer.NewELFLoader())
	defer func() {
		if err := resolver.Close(); err != nil {
			slog.Warn("Failed to release debug objects", "error", err)
		}
	}()

	cached, err := symbolizer.NewCachingResolver(resolver, cfg.CacheSize)
	if err != nil {
		return err
	}
	ann, err := annotator.NewAnnotator(cached, cfg.Workers)
	if err != nil {
		return err
	}
	_, err = ann.Annotate(ctx, tree)
	return err
}

func export(ctx context.Context, cfg *Config, title string, tree *ftrace.Tree, stdout io.Writer) error {
	switch cfg.Format {
	case FormatText:
		return withOutput(cfg.Output, stdout, func(w io.Writer) error {
			return exporter.RenderText(w, title, tree)
		})
	case FormatFolded:
		agg := exporter.BuildFoldedStacks(tree)
		return withOutput(cfg.Output, stdout, func(w io.Writer) error {
			return exporter.WriteFoldedStacks(w, agg)
		})
	case FormatPprof:
		prof, err := pprof.BuildPprofProfile(tree, title, time.Now())
		if err != nil {
			return err
		}
		if err := pprof.WriteProfileToFile(prof, cfg.Output); err != nil {
			return fmt.Errorf("write pprof profile: %w", err)
		}
		slog.Info("Wrote pprof profile", "path", cfg.Output, "samples", len(prof.Sample))
		return nil
	case FormatOtlp:
		return exportOtlp(ctx, cfg, title, tree)
	default:
		return fmt.Errorf("unknown format %q", cfg.Format)
	}
}

func exportOtlp(ctx context.Context, cfg *Config, title string, tree *ftrace.Tree) error {
	data := exporter.BuildOltpProfile(tree, title, func() uint64 { return uint64(time.Now().UnixNano()) })

	if cfg.Output != "" {
		if err := exporter.WriteOltpProfileToFile(data, cfg.Output); err != nil {
			return fmt.Errorf("write OTLP profile: %w", err)
		}
		slog.Info("Wrote OTLP profile", "path", cfg.Output)
	}
	if cfg.OtlpEndpoint == "" {
		return nil
	}

	exp, err := exporter.NewOtlpExporter(cfg.OtlpEndpoint)
	if err != nil {
		return err
	}
	defer exp.Close()

	ctx, cancel := context.WithTimeout(ctx, otlpExportTimeout)
	defer cancel()
	if err := exp.Export(ctx, data); err != nil {
		return err
	}
	slog.Info("Exported OTLP profile", "endpoint", cfg.OtlpEndpoint)
	return nil
}

// withOutput runs fn against the file at path, or stdout when path is empty.
func withOutput(path string, stdout io.Writer, fn func(io.Writer) error) error {
	if path == "" {
		return fn(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
