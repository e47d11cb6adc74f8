package symbolizer

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

const textSection = ".text"

// Resolver translates trace addresses into symbols of the debug objects
// found among its search paths. Each debug object is loaded at most once
// and kept until Close. A debug object missing from every search path is
// remembered as missing until Close.
type Resolver struct {
	metadata *Metadata
	sources  []string
	loader   DebugObjectLoader

	mu      sync.RWMutex
	objects map[string]DebugObject // keyed by debug object filename
	missing map[string]struct{}    // filenames absent from every source
	loads   singleflight.Group
}

func NewResolver(md *Metadata, sources []string, loader DebugObjectLoader) *Resolver {
	if loader == nil {
		loader = NewELFLoader()
	}
	return &Resolver{
		metadata: md,
		sources:  sources,
		loader:   loader,
		objects:  make(map[string]DebugObject),
		missing:  make(map[string]struct{}),
	}
}

// Resolve implements SymbolResolver. A missing debug object is reported as
// an error matching ErrModuleNotFound; an address without a symbol is not
// an error.
func (r *Resolver) Resolve(addr uint64) (string, bool, error) {
	info := r.metadata.LoadInfoFor(addr)
	offset, ok := info.RelativeOffset(addr)
	if !ok {
		slog.Debug("Address below image base", "addr", addr, "image", info.String())
		return "", false, nil
	}

	obj, err := r.debugObject(info)
	if err != nil {
		return "", false, err
	}

	// runtime symbols are linked relative to .text, module symbols are not
	if info.Runtime {
		if start, ok := obj.SectionStart(textSection); ok {
			offset += start
		}
	}

	name, ok := obj.FindSymbol(offset)
	if !ok {
		slog.Debug("No symbol covers address", "addr", addr, "offset", offset, "image", info.String())
	}
	return name, ok, nil
}

func (r *Resolver) debugObject(info LoadInfo) (DebugObject, error) {
	key := info.Filename()

	r.mu.RLock()
	obj, ok := r.objects[key]
	_, absent := r.missing[key]
	r.mu.RUnlock()
	if ok {
		return obj, nil
	}
	if absent {
		return nil, &ModuleNotFoundError{Filename: key}
	}

	v, err, _ := r.loads.Do(key, func() (interface{}, error) {
		r.mu.RLock()
		obj, ok := r.objects[key]
		r.mu.RUnlock()
		if ok {
			return obj, nil
		}

		path, found := r.findDebugObject(key)
		if !found {
			// the sources do not change during a run
			r.mu.Lock()
			r.missing[key] = struct{}{}
			r.mu.Unlock()
			return nil, &ModuleNotFoundError{Filename: key}
		}
		obj, err := r.loader.Load(path)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.objects[key] = obj
		r.mu.Unlock()
		return obj, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(DebugObject), nil
}

// findDebugObject searches the sources in order. A file source matches when
// its base name is filename, a directory source when it holds filename.
func (r *Resolver) findDebugObject(filename string) (string, bool) {
	for _, source := range r.sources {
		st, err := os.Stat(source)
		if err != nil {
			slog.Debug("Skipping unreadable debug source", "source", source, "error", err)
			continue
		}
		if st.Mode().IsRegular() {
			if filepath.Base(source) == filename {
				return source, true
			}
			continue
		}
		if st.IsDir() {
			candidate := filepath.Join(source, filename)
			if cst, err := os.Stat(candidate); err == nil && cst.Mode().IsRegular() {
				return candidate, true
			}
		}
	}
	return "", false
}

// Loaded reports the number of debug objects currently held.
func (r *Resolver) Loaded() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, obj := range r.objects {
		if err := obj.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.objects, key)
	}
	clear(r.missing)
	return errors.Join(errs...)
}
