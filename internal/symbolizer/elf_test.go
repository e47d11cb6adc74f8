package symbolizer

import (
	"debug/elf"
	"os"
	"runtime"
	"testing"
)

func TestELFLoader_ResolvesOwnBinary(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not an ELF file on " + runtime.GOOS)
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	ef, err := elf.Open(exe)
	if err != nil {
		t.Fatalf("elf.Open: %v", err)
	}
	var mainAddr uint64
	syms, err := ef.Symbols()
	if err != nil {
		ef.Close()
		t.Skipf("test binary has no symbol table: %v", err)
	}
	for _, s := range syms {
		if s.Name == "runtime.main" && elf.ST_TYPE(s.Info) == elf.STT_FUNC {
			mainAddr = s.Value
			break
		}
	}
	text := ef.Section(".text")
	ef.Close()
	if mainAddr == 0 || text == nil {
		t.Skip("runtime.main or .text not found in test binary")
	}

	obj, err := NewELFLoader().Load(exe)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer obj.Close()

	name, ok := obj.FindSymbol(mainAddr + 1)
	if !ok || name != "runtime.main" {
		t.Fatalf("FindSymbol(0x%x) = %q, %v; want runtime.main", mainAddr+1, name, ok)
	}
	start, ok := obj.SectionStart(".text")
	if !ok || start != text.Addr {
		t.Fatalf("SectionStart(.text) = 0x%x, %v; want 0x%x", start, ok, text.Addr)
	}
	if _, ok := obj.SectionStart(".no_such_section"); ok {
		t.Fatalf("unexpected section")
	}
}

func TestELFLoader_NotAnELF(t *testing.T) {
	path := t.TempDir() + "/tee.elf"
	if err := os.WriteFile(path, []byte("definitely not an elf file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewELFLoader().Load(path); err == nil {
		t.Fatalf("expected error loading non-ELF file")
	}
	if _, err := NewELFLoader().Load(path + ".missing"); err == nil {
		t.Fatalf("expected error loading missing file")
	}
}

func TestFindInSymbolTable(t *testing.T) {
	obj := &elfObject{}
	obj.setSymbols([]elfSymbol{
		{name: "outer", value: 0x100, size: 0x100},
		{name: "label", value: 0x300},
		{name: "after", value: 0x400, size: 0x8},
		{name: "inner", value: 0x120, size: 0x10}, // unsorted on purpose
	})

	tests := []struct {
		addr uint64
		want string
		ok   bool
	}{
		{0x0ff, "", false},
		{0x100, "outer", true},
		{0x125, "inner", true},
		{0x130, "outer", true},
		{0x200, "", false},
		{0x350, "label", true},
		{0x404, "after", true},
		{0x408, "", false},
	}
	for _, tt := range tests {
		got, ok := obj.findInSymbolTable(tt.addr)
		if ok != tt.ok || got != tt.want {
			t.Errorf("findInSymbolTable(0x%x) = %q, %v; want %q, %v", tt.addr, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFindInSymbolTable_BoundedSearch(t *testing.T) {
	syms := make([]elfSymbol, 0, 10000)
	for i := uint64(0); i < 10000; i++ {
		syms = append(syms, elfSymbol{name: "f", value: i * 0x100, size: 0x20})
	}
	obj := &elfObject{}
	obj.setSymbols(syms)

	// a gap between two functions near the end of the table
	addr := uint64(9990*0x100 + 0x80)
	if _, ok := obj.findInSymbolTable(addr); ok {
		t.Fatalf("expected a miss at 0x%x", addr)
	}
	lo, hi := obj.candidates(addr)
	if hi-lo > 1 {
		t.Fatalf("expected at most one candidate, scanning [%d, %d)", lo, hi)
	}
	if name, ok := obj.findInSymbolTable(addr - 0x70); !ok || name != "f" {
		t.Fatalf("expected a hit at 0x%x", addr-0x70)
	}

	// addresses beyond the table and before the first symbol
	if lo, hi := obj.candidates(10000*0x100 + 0x1000); hi-lo > 1 {
		t.Fatalf("expected a bounded window past the table, got [%d, %d)", lo, hi)
	}
	empty := &elfObject{}
	empty.setSymbols(nil)
	if lo, hi := empty.candidates(0x10); lo != 0 || hi != 0 {
		t.Fatalf("expected empty window, got [%d, %d)", lo, hi)
	}
}

func TestDemangleName(t *testing.T) {
	tests := map[string]string{
		"_ZN3foo3barEv": "foo::bar()",
		"plain_c_func":  "plain_c_func",
		"_Zgarbage":     "_Zgarbage",
	}
	for in, want := range tests {
		if got := demangleName(in); got != want {
			t.Errorf("demangleName(%q) = %q; want %q", in, got, want)
		}
	}
}
