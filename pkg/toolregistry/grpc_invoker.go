package toolregistry

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCInvoker routes one provider's tool calls to an out-of-process tool
// runtime over gRPC — the provider-facing analogue of
// pkg/dispatcher.GRPCExecutor, which plays the same role for task targets.
// Like GRPCExecutor, it carries the provider/capability/inputs contract as
// a structpb.Struct rather than a generated stub, since each MCP server or
// internal tool service declares its own dynamic input/output shape.
type GRPCInvoker struct {
	conn   *grpc.ClientConn
	method string
}

// NewGRPCInvoker dials addr in plaintext, matching the sidecar/localhost
// deployment assumption for tool runtimes. method is the full gRPC method
// path (e.g. "/runcore.tools.v1.Tool/Invoke").
func NewGRPCInvoker(addr, method string) (*GRPCInvoker, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("toolregistry: dial invoker at %s: %w", addr, err)
	}
	return &GRPCInvoker{conn: conn, method: method}, nil
}

// Invoke implements Invoker.
func (g *GRPCInvoker) Invoke(ctx context.Context, provider, capability string, inputs map[string]any) (map[string]any, string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"provider":   provider,
		"capability": capability,
		"inputs":     inputs,
	})
	if err != nil {
		return nil, "", fmt.Errorf("toolregistry: encode request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, g.method, req, resp); err != nil {
		return nil, "", fmt.Errorf("toolregistry: grpc invoke %s.%s: %w", provider, capability, err)
	}

	fields := resp.GetFields()
	var result map[string]any
	if out := fields["result"].GetStructValue(); out != nil {
		result = out.AsMap()
	}
	artifactID := fields["artifact_id"].GetStringValue()
	return result, artifactID, nil
}

// Close releases the gRPC connection.
func (g *GRPCInvoker) Close() error {
	return g.conn.Close()
}
