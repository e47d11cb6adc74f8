package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	collectorpb "go.opentelemetry.io/proto/otlp/collector/profiles/v1development"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
)

// OtlpExporter sends profiles to an OTLP collector over gRPC.
type OtlpExporter struct {
	conn   *grpc.ClientConn
	client collectorpb.ProfilesServiceClient
}

func NewOtlpExporter(endpoint string, opts ...grpc.DialOption) (*OtlpExporter, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP client for %s: %w", endpoint, err)
	}
	return &OtlpExporter{conn: conn, client: collectorpb.NewProfilesServiceClient(conn)}, nil
}

func (e *OtlpExporter) Export(ctx context.Context, data *profilespb.ProfilesData) error {
	resp, err := e.client.Export(ctx, &collectorpb.ExportProfilesServiceRequest{
		ResourceProfiles: data.ResourceProfiles,
		Dictionary:       data.Dictionary,
	})
	if err != nil {
		return fmt.Errorf("export profiles: %w", err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedProfiles() > 0 {
		slog.Warn("Collector rejected some profiles", "rejected", ps.GetRejectedProfiles(), "message", ps.GetErrorMessage())
	}
	return nil
}

func (e *OtlpExporter) Close() error {
	return e.conn.Close()
}

// WriteOltpProfileToFile writes data as a binary protobuf message.
func WriteOltpProfileToFile(data *profilespb.ProfilesData, filename string) error {
	b, err := proto.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	return os.WriteFile(filename, b, 0o644)
}
