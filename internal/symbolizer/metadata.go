package symbolizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/grafana/regexp"
)

// Line formats written by OP-TEE when dumping a function graph:
//
//	TEE load address @ 0x5ab04000
//	region  3: va 0x40005000 pa 0x0e2f0000 size 0x014000 flags r-xs [0]
//	  [0] 8aaaf200-2450-11e4-abe2-0002a5d5c51b @ 0x40005000
//	Function graph for TA: 8aaaf200-2450-11e4-abe2-0002a5d5c51b @ 40005000
//
// The region flag field is captured whole so a field of the wrong width
// fails flag parsing. Only names such as "(ldelf)" or ".ta_head" may follow
// the module index.
var (
	runtimeLoadAddrRegex = regexp.MustCompile(`TEE load address @ (0x[0-9a-fA-F]+)`)
	regionRegex          = regexp.MustCompile(`^region +[0-9]+: va (0x[0-9a-fA-F]+) pa (0x[0-9a-fA-F]+) size (0x[0-9a-fA-F]+) flags (\S+)(?: \[([0-9]+)\])?(?: [^\[\s]\S*)*\s*$`)
	moduleRegex          = regexp.MustCompile(`^\[([0-9]+)\] ([0-9a-fA-F-]+) @ (0x[0-9a-fA-F]+)`)
	functionGraphRegex   = regexp.MustCompile(`Function graph for TA: ([0-9a-fA-F-]+) @ ([0-9a-fA-F]+)`)
)

type RegionFlags uint8

const (
	FlagRead RegionFlags = 1 << iota
	FlagWrite
	FlagExec
	FlagSecure
)

// column order of the four flag characters
var flagColumns = [4]struct {
	char byte
	flag RegionFlags
}{{'r', FlagRead}, {'w', FlagWrite}, {'x', FlagExec}, {'s', FlagSecure}}

func ParseRegionFlags(s string) (RegionFlags, error) {
	if len(s) != len(flagColumns) {
		return 0, fmt.Errorf("%w: region flags %q must have %d characters", ErrInvalidFormat, s, len(flagColumns))
	}
	var flags RegionFlags
	for i, col := range flagColumns {
		switch s[i] {
		case col.char:
			flags |= col.flag
		case '-':
		default:
			return 0, fmt.Errorf("%w: unexpected region flag %q in %q", ErrInvalidFormat, s[i], s)
		}
	}
	return flags, nil
}

func (f RegionFlags) Has(flag RegionFlags) bool {
	return f&flag == flag
}

func (f RegionFlags) String() string {
	b := []byte("----")
	for i, col := range flagColumns {
		if f.Has(col.flag) {
			b[i] = col.char
		}
	}
	return string(b)
}

type Region struct {
	VirtualAddr  uint64
	PhysicalAddr uint64
	Size         uint64
	Flags        RegionFlags
	ModuleIndex  int // -1 when the region belongs to no module
}

func (r Region) HasModule() bool {
	return r.ModuleIndex >= 0
}

func (r Region) Contains(addr uint64) bool {
	return addr >= r.VirtualAddr && addr-r.VirtualAddr < r.Size
}

type Module struct {
	Index       int
	ID          uuid.UUID
	LoadAddress uint64
}

// Metadata is the memory layout recorded in a trace header.
type Metadata struct {
	RuntimeLoadAddress uint64
	Regions            []Region
	Modules            map[int]Module
	Title              string
	TargetID           uuid.UUID
	TargetLoadAddress  uint64
}

// ParseMetadata parses a trace header. The sections must appear in order:
// runtime load address, region table, module list, function graph line.
// Lines outside those sections are ignored.
func ParseMetadata(header string) (*Metadata, error) {
	lines := strings.Split(header, "\n")
	pos := 0
	next := func() (string, bool) {
		if pos >= len(lines) {
			return "", false
		}
		line := strings.TrimSpace(lines[pos])
		pos++
		return line, true
	}
	peek := func() string {
		if pos >= len(lines) {
			return ""
		}
		return strings.TrimSpace(lines[pos])
	}

	md := &Metadata{Modules: make(map[int]Module)}

	found := false
	for line, ok := next(); ok; line, ok = next() {
		m := runtimeLoadAddrRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		addr, err := parseHex(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: runtime load address: %v", ErrInvalidFormat, err)
		}
		md.RuntimeLoadAddress = addr
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("%w: missing TEE load address line", ErrInvalidFormat)
	}

	for strings.HasPrefix(peek(), "region") {
		line, _ := next()
		region, err := parseRegion(line)
		if err != nil {
			return nil, err
		}
		md.Regions = append(md.Regions, region)
	}

	for strings.HasPrefix(peek(), "[") {
		line, _ := next()
		module, err := parseModule(line)
		if err != nil {
			return nil, err
		}
		md.Modules[module.Index] = module
	}

	found = false
	for line, ok := next(); ok; line, ok = next() {
		m := functionGraphRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, err := uuid.Parse(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: traced module %q: %v", ErrInvalidIdentifier, m[1], err)
		}
		addr, err := parseHex(m[2])
		if err != nil {
			return nil, fmt.Errorf("%w: traced module load address: %v", ErrInvalidFormat, err)
		}
		md.Title = line
		md.TargetID = id
		md.TargetLoadAddress = addr
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("%w: missing function graph line", ErrInvalidFormat)
	}

	for _, r := range md.Regions {
		if !r.HasModule() {
			continue
		}
		if _, ok := md.Modules[r.ModuleIndex]; !ok {
			return nil, fmt.Errorf("%w: region at 0x%x refers to unknown module [%d]", ErrInvalidFormat, r.VirtualAddr, r.ModuleIndex)
		}
	}
	return md, nil
}

// FindRegion returns the first region containing addr.
func (m *Metadata) FindRegion(addr uint64) (Region, bool) {
	for _, r := range m.Regions {
		if r.Contains(addr) {
			return r, true
		}
	}
	return Region{}, false
}

// Target returns the module entry of the traced module, if listed.
func (m *Metadata) Target() (Module, bool) {
	for _, mod := range m.Modules {
		if mod.ID == m.TargetID {
			return mod, true
		}
	}
	return Module{}, false
}

func parseRegion(line string) (Region, error) {
	m := regionRegex.FindStringSubmatch(line)
	if m == nil {
		return Region{}, fmt.Errorf("%w: malformed region line %q", ErrInvalidFormat, line)
	}
	va, err1 := parseHex(m[1])
	pa, err2 := parseHex(m[2])
	size, err3 := parseHex(m[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return Region{}, fmt.Errorf("%w: failed to parse numeric fields in region line %q", ErrInvalidFormat, line)
	}
	flags, err := ParseRegionFlags(m[4])
	if err != nil {
		return Region{}, err
	}
	region := Region{VirtualAddr: va, PhysicalAddr: pa, Size: size, Flags: flags, ModuleIndex: -1}
	if m[5] != "" {
		idx, err := strconv.Atoi(m[5])
		if err != nil {
			return Region{}, fmt.Errorf("%w: region module index %q", ErrInvalidFormat, m[5])
		}
		region.ModuleIndex = idx
	}
	return region, nil
}

func parseModule(line string) (Module, error) {
	m := moduleRegex.FindStringSubmatch(line)
	if m == nil {
		return Module{}, fmt.Errorf("%w: malformed module line %q", ErrInvalidFormat, line)
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return Module{}, fmt.Errorf("%w: module index %q", ErrInvalidFormat, m[1])
	}
	id, err := uuid.Parse(m[2])
	if err != nil {
		return Module{}, fmt.Errorf("%w: module [%d] %q: %v", ErrInvalidIdentifier, idx, m[2], err)
	}
	addr, err := parseHex(m[3])
	if err != nil {
		return Module{}, fmt.Errorf("%w: module [%d] load address: %v", ErrInvalidFormat, idx, err)
	}
	return Module{Index: idx, ID: id, LoadAddress: addr}, nil
}

func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
