package reservationsv1

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "egi.reservations.v1.Reservations"

// Full method names.
const (
	CreateReservationMethod    = "/" + ServiceName + "/CreateReservation"
	CancelReservationMethod    = "/" + ServiceName + "/CancelReservation"
	VerifyCertificateMethod    = "/" + ServiceName + "/VerifyCertificate"
	GetReservationStatusMethod = "/" + ServiceName + "/GetReservationStatus"
	ListReservationsMethod     = "/" + ServiceName + "/ListReservations"
)

// ReservationsServer is the server API of the service.
type ReservationsServer interface {
	CreateReservation(context.Context, *CreateReservationRequest) (*CreateReservationResponse, error)
	CancelReservation(context.Context, *CancelReservationRequest) (*CancelReservationResponse, error)
	VerifyCertificate(context.Context, *VerifyCertificateRequest) (*VerifyCertificateResponse, error)
	GetReservationStatus(context.Context, *GetReservationStatusRequest) (*GetReservationStatusResponse, error)
	ListReservations(context.Context, *ListReservationsRequest) (*ListReservationsResponse, error)
}

// RegisterReservationsServer registers srv on s.
func RegisterReservationsServer(s grpc.ServiceRegistrar, srv ReservationsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReservationsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateReservation", CreateReservationMethod, ReservationsServer.CreateReservation),
		unary("CancelReservation", CancelReservationMethod, ReservationsServer.CancelReservation),
		unary("VerifyCertificate", VerifyCertificateMethod, ReservationsServer.VerifyCertificate),
		unary("GetReservationStatus", GetReservationStatusMethod, ReservationsServer.GetReservationStatus),
		unary("ListReservations", ListReservationsMethod, ReservationsServer.ListReservations),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "egi/reservations/v1",
}

func unary[Req, Resp any](
	name, fullMethod string, call func(ReservationsServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ReservationsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ReservationsServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ReservationsClient is the client API of the service.
type ReservationsClient interface {
	CreateReservation(ctx context.Context, in *CreateReservationRequest, opts ...grpc.CallOption) (*CreateReservationResponse, error)
	CancelReservation(ctx context.Context, in *CancelReservationRequest, opts ...grpc.CallOption) (*CancelReservationResponse, error)
	VerifyCertificate(ctx context.Context, in *VerifyCertificateRequest, opts ...grpc.CallOption) (*VerifyCertificateResponse, error)
	GetReservationStatus(ctx context.Context, in *GetReservationStatusRequest, opts ...grpc.CallOption) (*GetReservationStatusResponse, error)
	ListReservations(ctx context.Context, in *ListReservationsRequest, opts ...grpc.CallOption) (*ListReservationsResponse, error)
}

type reservationsClient struct{ cc grpc.ClientConnInterface }

// NewReservationsClient returns a client that speaks the JSON codec over cc.
func NewReservationsClient(cc grpc.ClientConnInterface) ReservationsClient {
	return &reservationsClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *reservationsClient) CreateReservation(ctx context.Context, in *CreateReservationRequest, opts ...grpc.CallOption) (*CreateReservationResponse, error) {
	return invoke[CreateReservationResponse](ctx, c.cc, CreateReservationMethod, in, opts)
}

func (c *reservationsClient) CancelReservation(ctx context.Context, in *CancelReservationRequest, opts ...grpc.CallOption) (*CancelReservationResponse, error) {
	return invoke[CancelReservationResponse](ctx, c.cc, CancelReservationMethod, in, opts)
}

func (c *reservationsClient) VerifyCertificate(ctx context.Context, in *VerifyCertificateRequest, opts ...grpc.CallOption) (*VerifyCertificateResponse, error) {
	return invoke[VerifyCertificateResponse](ctx, c.cc, VerifyCertificateMethod, in, opts)
}

func (c *reservationsClient) GetReservationStatus(ctx context.Context, in *GetReservationStatusRequest, opts ...grpc.CallOption) (*GetReservationStatusResponse, error) {
	return invoke[GetReservationStatusResponse](ctx, c.cc, GetReservationStatusMethod, in, opts)
}

func (c *reservationsClient) ListReservations(ctx context.Context, in *ListReservationsRequest, opts ...grpc.CallOption) (*ListReservationsResponse, error) {
	return invoke[ListReservationsResponse](ctx, c.cc, ListReservationsMethod, in, opts)
}
