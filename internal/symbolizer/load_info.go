package symbolizer

import (
	"fmt"

	"github.com/google/uuid"
)

const runtimeObjectName = "tee.elf"

// LoadInfo describes the image an address belongs to: either a loaded
// module or the TEE runtime itself.
type LoadInfo struct {
	Runtime     bool
	ModuleIndex int
	ModuleID    uuid.UUID
	LoadAddress uint64
	Region      Region
}

// LoadInfoFor attributes addr to the traced module when one of its regions
// contains it. Every other address belongs to the runtime, and carries the
// region containing it when there is one.
func (m *Metadata) LoadInfoFor(addr uint64) LoadInfo {
	for _, r := range m.Regions {
		if !r.HasModule() || !r.Contains(addr) {
			continue
		}
		mod, ok := m.Modules[r.ModuleIndex]
		if !ok || mod.ID != m.TargetID {
			continue
		}
		return LoadInfo{
			ModuleIndex: mod.Index,
			ModuleID:    mod.ID,
			LoadAddress: mod.LoadAddress,
			Region:      r,
		}
	}
	region, _ := m.FindRegion(addr)
	return LoadInfo{Runtime: true, ModuleIndex: -1, LoadAddress: m.RuntimeLoadAddress, Region: region}
}

// RelativeOffset is addr minus the load address. ok is false when addr lies
// below the image base.
func (l LoadInfo) RelativeOffset(addr uint64) (uint64, bool) {
	if addr < l.LoadAddress {
		return 0, false
	}
	return addr - l.LoadAddress, true
}

// Filename is the name of the debug object holding this image's symbols.
func (l LoadInfo) Filename() string {
	if l.Runtime {
		return runtimeObjectName
	}
	return fmt.Sprintf("%s.elf", l.ModuleID)
}

func (l LoadInfo) String() string {
	if l.Runtime {
		return fmt.Sprintf("runtime@0x%x", l.LoadAddress)
	}
	return fmt.Sprintf("[%d] %s@0x%x", l.ModuleIndex, l.ModuleID, l.LoadAddress)
}
