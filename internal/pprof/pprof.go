package pprof

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/VladMinzatu/optee-ftrace/internal/exporter"
	"github.com/VladMinzatu/optee-ftrace/internal/ftrace"
	"github.com/google/pprof/profile"
)

const (
	sampleTypeName = "wall"
	sampleTypeUnit = "nanoseconds"
)

type locationKey struct {
	addr uint64
	name string
}

// BuildPprofProfile converts the call tree into a pprof profile with one
// sample per call, valued at the call's self time. start is recorded as the
// profile's collection time.
func BuildPprofProfile(tree *ftrace.Tree, title string, start time.Time) (*profile.Profile, error) {
	p := &profile.Profile{
		SampleType:    []*profile.ValueType{{Type: sampleTypeName, Unit: sampleTypeUnit}},
		PeriodType:    &profile.ValueType{Type: sampleTypeName, Unit: sampleTypeUnit},
		Period:        1,
		TimeNanos:     start.UnixNano(),
		DurationNanos: exporter.TotalElapsed(tree).Nanoseconds(),
	}
	if title != "" {
		p.Comments = []string{title}
	}

	funcs := map[string]*profile.Function{}
	locMap := map[locationKey]*profile.Location{}
	nextFuncID := uint64(1)
	nextLocID := uint64(1)

	addFunction := func(name string) *profile.Function {
		if f, ok := funcs[name]; ok {
			return f
		}
		fn := &profile.Function{
			ID:         nextFuncID,
			Name:       name,
			SystemName: name,
		}
		nextFuncID++
		funcs[name] = fn
		p.Function = append(p.Function, fn)
		return fn
	}

	addLocationFor := func(n *ftrace.Node) *profile.Location {
		key := locationKey{addr: n.Address, name: exporter.FrameName(n)}
		if loc, ok := locMap[key]; ok {
			return loc
		}
		loc := &profile.Location{
			ID:      nextLocID,
			Address: n.Address,
			Line:    []profile.Line{{Function: addFunction(key.name), Line: 0}},
		}
		nextLocID++
		locMap[key] = loc
		p.Location = append(p.Location, loc)
		return loc
	}

	exporter.WalkStacks(tree, func(path []*ftrace.Node) {
		// pprof assumes stacks are in leaf-to-root order, i.e. stack[0] is leaf (innermost)
		locs := make([]*profile.Location, 0, len(path))
		for i := len(path) - 1; i >= 0; i-- {
			locs = append(locs, addLocationFor(path[i]))
		}
		leaf := path[len(path)-1]
		p.Sample = append(p.Sample, &profile.Sample{
			Value:    []int64{exporter.SelfTime(leaf).Nanoseconds()},
			Location: locs,
			NumLabel: map[string][]int64{"depth": {int64(leaf.Depth)}},
			NumUnit:  map[string][]string{"depth": {"count"}},
		})
	})

	if err := p.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid pprof profile: %w", err)
	}
	return p, nil
}

// WriteProfile writes p in the gzip-compressed protobuf format.
func WriteProfile(p *profile.Profile, w io.Writer) error {
	return p.Write(w)
}

func WriteProfileToFile(p *profile.Profile, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteProfile(p, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
