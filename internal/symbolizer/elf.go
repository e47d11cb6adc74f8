package symbolizer

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

type elfSymbol struct {
	name  string
	value uint64
	size  uint64
}

type elfObject struct {
	file     *mappedFile
	symbols  []elfSymbol // sorted by value
	maxSize  uint64      // largest symbol size, bounds the covering search
	sections map[string]uint64
	dwarf    *dwarf.Data
}

// ELFLoader loads ELF debug objects through a read-only file mapping.
type ELFLoader struct{}

func NewELFLoader() *ELFLoader {
	return &ELFLoader{}
}

func (l *ELFLoader) Load(path string) (DebugObject, error) {
	slog.Info("Loading ELF debug object", "path", path)
	mf, err := openMapped(path)
	if err != nil {
		return nil, err
	}
	obj, err := newELFObject(mf)
	if err != nil {
		mf.Close()
		return nil, fmt.Errorf("parse ELF %s: %w", path, err)
	}
	return obj, nil
}

func newELFObject(mf *mappedFile) (*elfObject, error) {
	ef, err := elf.NewFile(bytes.NewReader(mf.data))
	if err != nil {
		return nil, err
	}

	obj := &elfObject{file: mf, sections: make(map[string]uint64)}
	for _, s := range ef.Sections {
		if s.Name != "" {
			obj.sections[s.Name] = s.Addr
		}
	}
	obj.setSymbols(readFunctionSymbols(ef))

	if d, err := ef.DWARF(); err == nil {
		obj.dwarf = d
	} else {
		slog.Debug("DWARF data not available", "path", mf.path, "error", err)
	}

	if len(obj.symbols) == 0 && obj.dwarf == nil {
		return nil, errors.New("no symbol tables or DWARF data available in ELF")
	}
	slog.Debug("Loaded ELF symbols", "path", mf.path, "symbols", len(obj.symbols), "dwarf", obj.dwarf != nil)
	return obj, nil
}

func readFunctionSymbols(ef *elf.File) []elfSymbol {
	var raw []elf.Symbol
	if st, err := ef.Symbols(); err == nil {
		raw = append(raw, st...)
	}
	if st, err := ef.DynamicSymbols(); err == nil {
		raw = append(raw, st...)
	}

	syms := make([]elfSymbol, 0, len(raw))
	for _, s := range raw {
		if s.Section == elf.SHN_UNDEF || s.Name == "" {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC:
		case elf.STT_NOTYPE:
			// skip ARM mapping symbols ($a, $t, $x, $d)
			if strings.HasPrefix(s.Name, "$") {
				continue
			}
		default:
			continue
		}
		syms = append(syms, elfSymbol{name: demangleName(s.Name), value: s.Value, size: s.Size})
	}
	return syms
}

func (o *elfObject) setSymbols(syms []elfSymbol) {
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].value < syms[j].value })
	o.symbols = syms
	o.maxSize = 0
	for _, s := range syms {
		if s.size > o.maxSize {
			o.maxSize = s.size
		}
	}
}

func demangleName(name string) string {
	if !strings.HasPrefix(name, "_Z") {
		return name
	}
	return demangle.Filter(name)
}

// FindSymbol returns the innermost symbol covering addr. Symbols without a
// size extend up to the next symbol.
func (o *elfObject) FindSymbol(addr uint64) (string, bool) {
	if name, ok := o.findInSymbolTable(addr); ok {
		return name, true
	}
	if o.dwarf != nil {
		return o.findInDWARF(addr)
	}
	return "", false
}

func (o *elfObject) findInSymbolTable(addr uint64) (string, bool) {
	lo, hi := o.candidates(addr)
	for j := hi - 1; j >= lo; j-- {
		s := o.symbols[j]
		if s.size == 0 {
			if j == hi-1 {
				return s.name, true
			}
			continue
		}
		if addr-s.value < s.size {
			return s.name, true
		}
	}
	return "", false
}

// candidates returns the index range [lo, hi) of symbols that may cover
// addr. Symbols starting more than maxSize below addr cannot reach it.
func (o *elfObject) candidates(addr uint64) (int, int) {
	// first symbol starting after addr
	hi := sort.Search(len(o.symbols), func(i int) bool { return o.symbols[i].value > addr })
	if hi == 0 {
		return 0, 0
	}
	if o.symbols[hi-1].size == 0 {
		return hi - 1, hi
	}
	var floor uint64
	if addr > o.maxSize {
		floor = addr - o.maxSize
	}
	lo := sort.Search(hi, func(i int) bool { return o.symbols[i].value >= floor })
	return lo, hi
}

func (o *elfObject) findInDWARF(addr uint64) (string, bool) {
	rdr := o.dwarf.Reader()
	for {
		ent, err := rdr.Next()
		if err != nil || ent == nil {
			return "", false
		}
		if ent.Tag != dwarf.TagSubprogram {
			continue
		}

		inRange := false
		if ranges, err := o.dwarf.Ranges(ent); err == nil {
			for _, r := range ranges {
				if addr >= r[0] && addr < r[1] {
					inRange = true
					break
				}
			}
		}
		if !inRange {
			continue
		}

		if v, ok := ent.Val(dwarf.AttrLinkageName).(string); ok && v != "" {
			return demangleName(v), true
		}
		if v, ok := ent.Val(dwarf.AttrName).(string); ok && v != "" {
			return v, true
		}
	}
}

func (o *elfObject) SectionStart(name string) (uint64, bool) {
	addr, ok := o.sections[name]
	return addr, ok
}

func (o *elfObject) Close() error {
	return o.file.Close()
}
