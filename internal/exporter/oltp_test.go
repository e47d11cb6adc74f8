package exporter

import (
	"testing"

	"github.com/VladMinzatu/optee-ftrace/internal/ftrace"
	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	resourceV1 "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/proto"
)

func mustMarshal(t *testing.T, m proto.Message) []byte {
	t.Helper()
	b, err := proto.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal proto: %v", err)
	}
	return b
}

func TestBuildOltpProfile_Basic(t *testing.T) {
	nowValue := uint64(9999999999)
	tree := &ftrace.Tree{Children: []*ftrace.Node{
		{Depth: 1, Address: 0x1000, Symbol: "main", Elapsed: 100, Ended: true, Children: []*ftrace.Node{
			{Depth: 2, Address: 0x1200, Elapsed: 10, Ended: true},
		}},
	}}

	got := BuildOltpProfile(tree, "Function graph for TA: x", func() uint64 { return nowValue })

	expectedStringTable := []string{"", "wall", "nanoseconds", "main", "0x0000000000001200"}
	expectedFunctionTable := []*profilespb.Function{
		{},
		{NameStrindex: int32(3), SystemNameStrindex: int32(3)},
		{NameStrindex: int32(4), SystemNameStrindex: int32(4)},
	}
	expectedLocationTable := []*profilespb.Location{
		{},
		{Address: uint64(0x1000), MappingIndex: 0, Lines: []*profilespb.Line{{FunctionIndex: 1, Line: 0}}},
		{Address: uint64(0x1200), MappingIndex: 0, Lines: []*profilespb.Line{{FunctionIndex: 2, Line: 0}}},
	}
	expectedStackTable := []*profilespb.Stack{
		{},
		{LocationIndices: []int32{1}},
		{LocationIndices: []int32{2, 1}}, // leaf first
	}
	expectedSamples := []*profilespb.Sample{
		{StackIndex: 1, Values: []int64{90}, AttributeIndices: []int32{}},
		{StackIndex: 2, Values: []int64{10}, AttributeIndices: []int32{}},
	}

	expectedProfile := &profilespb.Profile{
		TimeUnixNano: nowValue,
		DurationNano: uint64(100),
		SampleType:   &profilespb.ValueType{TypeStrindex: int32(1), UnitStrindex: int32(2)},
		Samples:      expectedSamples,
	}

	expectedResourceProfiles := &profilespb.ResourceProfiles{
		Resource: &resourceV1.Resource{
			Attributes: []*v1.KeyValue{
				{
					Key:   "optee.ftrace.title",
					Value: &v1.AnyValue{Value: &v1.AnyValue_StringValue{StringValue: "Function graph for TA: x"}},
				},
			},
		},
		ScopeProfiles: []*profilespb.ScopeProfiles{
			{
				Scope:    &v1.InstrumentationScope{Name: "optee-ftrace", Version: "v1"},
				Profiles: []*profilespb.Profile{expectedProfile},
			},
		},
	}

	expected := &profilespb.ProfilesData{
		ResourceProfiles: []*profilespb.ResourceProfiles{expectedResourceProfiles},
		Dictionary: &profilespb.ProfilesDictionary{
			MappingTable:  []*profilespb.Mapping{{}},
			LocationTable: expectedLocationTable,
			FunctionTable: expectedFunctionTable,
			StackTable:    expectedStackTable,
			StringTable:   expectedStringTable,
		},
	}

	if !proto.Equal(got, expected) {
		gotB := mustMarshal(t, got)
		wantB := mustMarshal(t, expected)
		t.Fatalf("ProfilesData proto mismatch\nGOT (len %d): %x\nWANT (len %d): %x", len(gotB), gotB, len(wantB), wantB)
	}
}

func TestBuildOltpProfile_DeduplicatesLocations(t *testing.T) {
	got := BuildOltpProfile(sampleTree(), "", func() uint64 { return 1 })

	dict := got.Dictionary
	// main, a, 0x1200, 0x2000 plus the reserved zero entries
	if len(dict.LocationTable) != 5 || len(dict.FunctionTable) != 5 {
		t.Fatalf("expected deduplicated tables, got %d locations and %d functions", len(dict.LocationTable), len(dict.FunctionTable))
	}
	profile := got.ResourceProfiles[0].ScopeProfiles[0].Profiles[0]
	if len(profile.Samples) != 5 {
		t.Fatalf("expected one sample per call, got %d", len(profile.Samples))
	}
	var total int64
	for _, s := range profile.Samples {
		total += s.Values[0]
	}
	if total != 200 || profile.DurationNano != 200 {
		t.Fatalf("self times should add up to the total elapsed time: %d / %d", total, profile.DurationNano)
	}
	if len(got.ResourceProfiles[0].Resource.Attributes) != 0 {
		t.Fatalf("expected no title attribute")
	}
}
