package dispatcher

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pipeforge/runcore/pkg/models"
)

// GRPCExecutor invokes a task against an out-of-process agent or tool
// runtime over gRPC. It is the network-boundary analogue of an in-process
// Executor, used for targets that run as separate services (Python
// agents, sandboxed tool runners).
//
// Request/response payloads are carried as structpb.Struct rather than a
// generated service stub: the task/tool contract (spec §4.7) is a dynamic
// JSON-shaped document, not a fixed schema, so a hand-maintained .proto
// service definition would need regenerating on every new tool — the
// dynamic struct keeps the wire contract stable while task input/output
// shapes evolve.
type GRPCExecutor struct {
	conn   *grpc.ClientConn
	method string
}

// NewGRPCExecutor dials addr in plaintext, matching the sidecar/localhost
// deployment assumption for agent/tool runtimes. method is the full gRPC
// method path (e.g. "/runcore.executor.v1.Executor/Execute").
func NewGRPCExecutor(addr, method string) (*GRPCExecutor, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: dial executor at %s: %w", addr, err)
	}
	return &GRPCExecutor{conn: conn, method: method}, nil
}

// Execute performs a unary gRPC call carrying task's input and returns the
// decoded TaskResult.
func (g *GRPCExecutor) Execute(ctx context.Context, task *models.TaskSpec) (*models.TaskResult, error) {
	req, err := structpb.NewStruct(map[string]any{
		"task_id":  task.ID,
		"run_id":   task.RunID,
		"phase":    task.Phase,
		"target":   task.Target,
		"input":    task.Input,
		"budget": map[string]any{
			"usd":              task.Budget.USD,
			"tokens":           task.Budget.Tokens,
			"tool_minutes":     task.Budget.ToolMinutes,
			"wallclock_ms":     task.Budget.WallclockMS,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: encode request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, g.method, req, resp); err != nil {
		return nil, fmt.Errorf("dispatcher: grpc invoke: %w", err)
	}

	return decodeResult(resp), nil
}

// Close releases the gRPC connection.
func (g *GRPCExecutor) Close() error {
	return g.conn.Close()
}

func decodeResult(resp *structpb.Struct) *models.TaskResult {
	fields := resp.GetFields()
	result := &models.TaskResult{
		OK: fields["ok"].GetBoolValue(),
	}
	if out := fields["output"].GetStructValue(); out != nil {
		result.Output = out.AsMap()
	}
	if execID, ok := fields["execution_id"]; ok {
		result.ExecutionID = execID.GetStringValue()
	}
	if m := fields["metrics"].GetStructValue(); m != nil {
		mf := m.GetFields()
		result.Metrics = models.TaskResultMetrics{
			DurationMS:  int64(mf["duration_ms"].GetNumberValue()),
			Tokens:      int(mf["tokens"].GetNumberValue()),
			ToolMinutes: int(mf["tool_minutes"].GetNumberValue()),
			CostUSD:     mf["cost_usd"].GetNumberValue(),
			RetryCount:  int(mf["retry_count"].GetNumberValue()),
		}
	}
	return result
}
