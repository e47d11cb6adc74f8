package exporter

import (
	"github.com/VladMinzatu/optee-ftrace/internal/ftrace"
	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	resourceV1 "go.opentelemetry.io/proto/otlp/resource/v1"
)

const (
	scopeName    = "optee-ftrace"
	scopeVersion = "v1"
	titleAttrKey = "optee.ftrace.title"
)

type NowFunc func() uint64 // produces unix nsec

type locationKey struct {
	addr uint64
	name string
}

// BuildOltpProfile converts the call tree into OTLP profiles data with one
// sample per call. A sample's value is the call's self time in nanoseconds
// and its stack lists the call path leaf first.
func BuildOltpProfile(tree *ftrace.Tree, title string, now NowFunc) *profilespb.ProfilesData {
	nowNsec := now()
	stringTable := []string{""}
	mappingTable := []*profilespb.Mapping{{}}
	locationTable := []*profilespb.Location{{}}
	functionTable := []*profilespb.Function{{}}
	stackTable := []*profilespb.Stack{{}}

	defaultMappingIdx := 0
	functions := map[string]int32{}
	locations := map[locationKey]int32{}
	profileSamples := make([]*profilespb.Sample, 0, tree.Len())

	sampleType := &profilespb.ValueType{
		TypeStrindex: strIndex(&stringTable, "wall"),
		UnitStrindex: strIndex(&stringTable, "nanoseconds"),
	}

	functionFor := func(name string) int32 {
		if idx, ok := functions[name]; ok {
			return idx
		}
		nameIdx := strIndex(&stringTable, name)
		functionTable = append(functionTable, &profilespb.Function{
			NameStrindex:       nameIdx,
			SystemNameStrindex: nameIdx,
		})
		idx := int32(len(functionTable) - 1)
		functions[name] = idx
		return idx
	}

	locationFor := func(n *ftrace.Node) int32 {
		key := locationKey{addr: n.Address, name: FrameName(n)}
		if idx, ok := locations[key]; ok {
			return idx
		}
		loc := &profilespb.Location{
			Address:      n.Address,
			MappingIndex: int32(defaultMappingIdx),
			Lines: []*profilespb.Line{
				{
					FunctionIndex: functionFor(key.name),
					Line:          0,
				},
			},
		}
		locationTable = append(locationTable, loc)
		idx := int32(len(locationTable) - 1)
		locations[key] = idx
		return idx
	}

	WalkStacks(tree, func(path []*ftrace.Node) {
		locIndices := make([]int32, 0, len(path))
		for i := len(path) - 1; i >= 0; i-- { // leaf first
			locIndices = append(locIndices, locationFor(path[i]))
		}
		stackTable = append(stackTable, &profilespb.Stack{LocationIndices: locIndices})

		profileSamples = append(profileSamples, &profilespb.Sample{
			StackIndex:       int32(len(stackTable) - 1),
			Values:           []int64{SelfTime(path[len(path)-1]).Nanoseconds()},
			AttributeIndices: []int32{},
			LinkIndex:        0,
		})
	})

	profile := &profilespb.Profile{
		TimeUnixNano: nowNsec,
		DurationNano: uint64(TotalElapsed(tree).Nanoseconds()),
		SampleType:   sampleType,
		Samples:      profileSamples,
	}

	resource := &resourceV1.Resource{}
	if title != "" {
		resource.Attributes = []*v1.KeyValue{
			{
				Key:   titleAttrKey,
				Value: &v1.AnyValue{Value: &v1.AnyValue_StringValue{StringValue: title}},
			},
		}
	}
	resourceProfiles := &profilespb.ResourceProfiles{
		Resource: resource,
		ScopeProfiles: []*profilespb.ScopeProfiles{
			{
				Scope: &v1.InstrumentationScope{
					Name:    scopeName,
					Version: scopeVersion,
				},
				Profiles: []*profilespb.Profile{profile},
			},
		},
	}

	dictionary := &profilespb.ProfilesDictionary{
		MappingTable:  mappingTable,
		LocationTable: locationTable,
		FunctionTable: functionTable,
		StackTable:    stackTable,
		StringTable:   stringTable,
	}

	return &profilespb.ProfilesData{
		ResourceProfiles: []*profilespb.ResourceProfiles{resourceProfiles},
		Dictionary:       dictionary,
	}
}

func strIndex(table *[]string, s string) int32 {
	for i, v := range *table {
		if v == s {
			return int32(i)
		}
	}
	*table = append(*table, s)
	return int32(len(*table) - 1)
}
