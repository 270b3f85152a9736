package server

import (
	"TreasuryLedger/internal/ingestion"
	"context"

	"google.golang.org/grpc"
)

const (
	TreasuryServiceName = "treasury.v1.TreasuryService"
	FaucetServiceName   = "treasury.v1.FaucetService"
)

// unary builds a method descriptor around a typed handler. It plays the
// part of the generated _Handler functions.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var TreasuryServiceDesc = grpc.ServiceDesc{
	ServiceName: TreasuryServiceName,
	HandlerType: (*TreasuryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(TreasuryServiceName, "CreateTreasury", TreasuryServiceServer.CreateTreasury),
		unary(TreasuryServiceName, "Stake", TreasuryServiceServer.Stake),
		unary(TreasuryServiceName, "Redeem", TreasuryServiceServer.Redeem),
		unary(TreasuryServiceName, "GetTreasury", TreasuryServiceServer.GetTreasury),
		unary(TreasuryServiceName, "GetBalance", TreasuryServiceServer.GetBalance),
		unary(TreasuryServiceName, "GetPosition", TreasuryServiceServer.GetPosition),
		unary(TreasuryServiceName, "ListJournals", TreasuryServiceServer.ListJournals),
		unary(TreasuryServiceName, "VerifyIntegrity", TreasuryServiceServer.VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "treasury/v1/treasury.proto",
}

var FaucetServiceDesc = grpc.ServiceDesc{
	ServiceName: FaucetServiceName,
	HandlerType: (*FaucetServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(FaucetServiceName, "Airdrop", FaucetServiceServer.Airdrop),
		unary(FaucetServiceName, "CreateMint", FaucetServiceServer.CreateMint),
		unary(FaucetServiceName, "CreateTokenAccount", FaucetServiceServer.CreateTokenAccount),
		unary(FaucetServiceName, "MintTo", FaucetServiceServer.MintTo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "treasury/v1/faucet.proto",
}

func RegisterTreasuryServiceServer(s grpc.ServiceRegistrar, srv TreasuryServiceServer) {
	s.RegisterService(&TreasuryServiceDesc, srv)
}

func RegisterFaucetServiceServer(s grpc.ServiceRegistrar, srv FaucetServiceServer) {
	s.RegisterService(&FaucetServiceDesc, srv)
}

// Client invokes both services over a connection using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, c *Client, service, method string, in *Req) (*Resp, error) {
	out := new(Resp)
	err := c.cc.Invoke(ctx, "/"+service+"/"+method, in, out, grpc.CallContentSubtype(jsonCodec{}.Name()))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTreasury(ctx context.Context, in *ingestion.CreateTreasuryJSON) (*InstructionResponse, error) {
	return invoke[ingestion.CreateTreasuryJSON, InstructionResponse](ctx, c, TreasuryServiceName, "CreateTreasury", in)
}

func (c *Client) Stake(ctx context.Context, in *ingestion.PositionJSON) (*InstructionResponse, error) {
	return invoke[ingestion.PositionJSON, InstructionResponse](ctx, c, TreasuryServiceName, "Stake", in)
}

func (c *Client) Redeem(ctx context.Context, in *ingestion.PositionJSON) (*InstructionResponse, error) {
	return invoke[ingestion.PositionJSON, InstructionResponse](ctx, c, TreasuryServiceName, "Redeem", in)
}

func (c *Client) GetTreasury(ctx context.Context, in *GetTreasuryRequest) (*TreasuryView, error) {
	return invoke[GetTreasuryRequest, TreasuryView](ctx, c, TreasuryServiceName, "GetTreasury", in)
}
