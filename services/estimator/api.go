// Package estimator serves the estimation pipeline over gRPC.
//
// The service has no .proto file: messages are the Go structs below, carried
// by a JSON codec registered under the "json" content-subtype. Clients built
// with Dial or NewClient select it on every call.
package estimator

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/perclft/sshqpe/circuit"
	"github.com/perclft/sshqpe/errdefs"
	"github.com/perclft/sshqpe/evolution"
	"github.com/perclft/sshqpe/lattice"
	"github.com/perclft/sshqpe/noise"
	"github.com/perclft/sshqpe/pipeline"
	"github.com/perclft/sshqpe/services/registry"
)

const ServiceName = "sshqpe.v1.Estimator"

// ------------------------------------------------------------------
// Messages
// ------------------------------------------------------------------

// EstimateRequest is the wire form of pipeline.Spec. An empty trotter order
// means first order and zero top_k or an empty reference take the pipeline
// defaults. Every other field must be set: zero qubits, time, steps or shots
// are rejected.
type EstimateRequest struct {
	UnitCells        int                `json:"unit_cells"`
	Intracell        float64            `json:"intracell_hopping"`
	Intercell        float64            `json:"intercell_hopping"`
	EvaluationQubits int                `json:"evaluation_qubits"`
	EvolutionTime    float64            `json:"evolution_time"`
	TrotterOrder     string             `json:"trotter_order,omitempty"`
	TrotterSteps     int                `json:"trotter_steps"`
	Shots            int                `json:"shots"`
	Seed             *int64             `json:"seed,omitempty"`
	InitialState     string             `json:"initial_state,omitempty"`
	Noise            *noise.ChannelSpec `json:"noise,omitempty"`
	TopK             int                `json:"top_k,omitempty"`
	Reference        string             `json:"reference,omitempty"`
	// Refresh drops any cached result for this request before running it.
	Refresh bool `json:"refresh,omitempty"`
}

// NewEstimateRequest converts a spec. Prepared initial states have no wire
// form and are rejected.
func NewEstimateRequest(spec pipeline.Spec) (*EstimateRequest, error) {
	if spec.Initial.Kind == circuit.InitialPrepared {
		return nil, errdefs.InvalidParameter("initial_state", spec.Initial.String(), "prepared states cannot be sent to a server")
	}
	initial := string(spec.Initial.Kind)
	if spec.Initial.Kind == circuit.InitialEdge {
		initial = "edge-left"
		if spec.Initial.Site != 0 {
			initial = "edge-right"
		}
	}
	return &EstimateRequest{
		UnitCells:        spec.Lattice.UnitCells,
		Intracell:        spec.Lattice.Intracell,
		Intercell:        spec.Lattice.Intercell,
		EvaluationQubits: spec.EvaluationQubits,
		EvolutionTime:    spec.Duration,
		TrotterOrder:     spec.Order.String(),
		TrotterSteps:     spec.Steps,
		Shots:            spec.Shots,
		Seed:             spec.Seed,
		InitialState:     initial,
		Noise:            spec.Noise,
		TopK:             spec.TopK,
		Reference:        string(spec.Reference),
	}, nil
}

// Spec validates the request and converts it back.
func (r *EstimateRequest) Spec() (pipeline.Spec, error) {
	p := lattice.Parameters{UnitCells: r.UnitCells, Intracell: r.Intracell, Intercell: r.Intercell}
	order := evolution.First
	if r.TrotterOrder != "" {
		var err error
		if order, err = evolution.ParseOrder(r.TrotterOrder); err != nil {
			return pipeline.Spec{}, err
		}
	}
	initial, err := circuit.ParseInitial(r.InitialState, p.NumSites())
	if err != nil {
		return pipeline.Spec{}, err
	}
	spec := pipeline.Spec{
		Lattice:          p,
		EvaluationQubits: r.EvaluationQubits,
		Duration:         r.EvolutionTime,
		Order:            order,
		Steps:            r.TrotterSteps,
		Shots:            r.Shots,
		Seed:             r.Seed,
		Initial:          initial,
		Noise:            r.Noise,
		TopK:             r.TopK,
		Reference:        pipeline.ReferenceKind(r.Reference),
	}
	return spec, spec.Validate()
}

type EstimateResponse struct {
	Result      *pipeline.Result       `json:"result"`
	Cached      bool                   `json:"cached"`
	CompletedAt *timestamppb.Timestamp `json:"completed_at"`
	Elapsed     *durationpb.Duration   `json:"elapsed"`
}

type SweepRequest struct {
	Estimate EstimateRequest `json:"estimate"`
	Rates    []float64       `json:"rates,omitempty"`
}

type SweepResponse struct {
	Points      []pipeline.SweepPoint  `json:"points"`
	CompletedAt *timestamppb.Timestamp `json:"completed_at"`
	Elapsed     *durationpb.Duration   `json:"elapsed"`
}

type GetRunRequest struct {
	ID string `json:"id"`
}

type GetRunResponse struct {
	Run *registry.RunRecord `json:"run"`
}

type DeleteRunRequest struct {
	ID string `json:"id"`
}

type DeleteRunResponse struct{}

type ListRunsRequest struct {
	UnitCells int `json:"unit_cells,omitempty"`
	Page      int `json:"page,omitempty"`
	PageSize  int `json:"page_size,omitempty"`
}

type ListRunsResponse struct {
	Runs []registry.RunRecord `json:"runs"`
}

// ------------------------------------------------------------------
// Service descriptor
// ------------------------------------------------------------------

type EstimatorServer interface {
	Estimate(context.Context, *EstimateRequest) (*EstimateResponse, error)
	Sweep(context.Context, *SweepRequest) (*SweepResponse, error)
	GetRun(context.Context, *GetRunRequest) (*GetRunResponse, error)
	ListRuns(context.Context, *ListRunsRequest) (*ListRunsResponse, error)
	DeleteRun(context.Context, *DeleteRunRequest) (*DeleteRunResponse, error)
}

func RegisterEstimatorServer(s grpc.ServiceRegistrar, srv EstimatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EstimatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Estimate", Handler: unary("Estimate", EstimatorServer.Estimate)},
		{MethodName: "Sweep", Handler: unary("Sweep", EstimatorServer.Sweep)},
		{MethodName: "GetRun", Handler: unary("GetRun", EstimatorServer.GetRun)},
		{MethodName: "ListRuns", Handler: unary("ListRuns", EstimatorServer.ListRuns)},
		{MethodName: "DeleteRun", Handler: unary("DeleteRun", EstimatorServer.DeleteRun)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sshqpe/v1/estimator",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(EstimatorServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EstimatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(EstimatorServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ------------------------------------------------------------------
// Client
// ------------------------------------------------------------------

type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to an estimator without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection, which the caller keeps owning.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Estimate(ctx context.Context, in *EstimateRequest, opts ...grpc.CallOption) (*EstimateResponse, error) {
	return invoke[EstimateResponse](ctx, c, "Estimate", in, opts)
}

func (c *Client) Sweep(ctx context.Context, in *SweepRequest, opts ...grpc.CallOption) (*SweepResponse, error) {
	return invoke[SweepResponse](ctx, c, "Sweep", in, opts)
}

func (c *Client) GetRun(ctx context.Context, in *GetRunRequest, opts ...grpc.CallOption) (*GetRunResponse, error) {
	return invoke[GetRunResponse](ctx, c, "GetRun", in, opts)
}

func (c *Client) ListRuns(ctx context.Context, in *ListRunsRequest, opts ...grpc.CallOption) (*ListRunsResponse, error) {
	return invoke[ListRunsResponse](ctx, c, "ListRuns", in, opts)
}

func (c *Client) DeleteRun(ctx context.Context, in *DeleteRunRequest, opts ...grpc.CallOption) (*DeleteRunResponse, error) {
	return invoke[DeleteRunResponse](ctx, c, "DeleteRun", in, opts)
}
