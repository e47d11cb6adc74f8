package symbolizer

// DebugObject is the symbol query primitive of a loaded debug binary.
// Addresses are image relative.
type DebugObject interface {
	FindSymbol(addr uint64) (string, bool)
	SectionStart(name string) (uint64, bool)
	Close() error
}

type DebugObjectLoader interface {
	Load(path string) (DebugObject, error)
}

// SymbolResolver maps an absolute trace address to a symbol name. ok is
// false when no symbol covers the address.
type SymbolResolver interface {
	Resolve(addr uint64) (name string, ok bool, err error)
}
