package encoder

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
)

// #region service-desc

const (
	serviceName  = "hybrid.encoder.v1.Encoder"
	encodeMethod = "/" + serviceName + "/Encode"
)

// EncoderServer is the server side of the encoder RPC. Requests carry the raw
// text, responses a list of numbers.
type EncoderServer interface {
	Encode(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error)
}

// ServiceDesc describes the encoder service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EncoderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Encode", Handler: encodeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hybrid/encoder/v1/encoder.proto",
}

// RegisterServer attaches srv to s.
func RegisterServer(s grpc.ServiceRegistrar, srv EncoderServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func encodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EncoderServer).Encode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: encodeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EncoderServer).Encode(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region server

// server exposes any Encoder over gRPC.
type server struct {
	enc Encoder
}

// NewServer wraps enc as an EncoderServer.
func NewServer(enc Encoder) EncoderServer {
	return &server{enc: enc}
}

func (s *server) Encode(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	vec, err := s.enc.Encode(ctx, req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	values := make([]*structpb.Value, len(vec))
	for i, v := range vec {
		values[i] = structpb.NewNumberValue(float64(v))
	}
	return &structpb.ListValue{Values: values}, nil
}

// #endregion server

// #region client

// Client calls a remote encoder service.
type Client struct {
	conn    *grpc.ClientConn
	dim     int
	timeout time.Duration
}

// Dial connects to the encoder at addr. The expected output width is dim.
func Dial(addr string, dim int, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	if dim <= 0 {
		return nil, herr.InvalidArgf("encoder dimension must be positive, got %d", dim)
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, dim: dim, timeout: timeout}, nil
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Dimension returns the expected output width.
func (c *Client) Dimension() int { return c.dim }

// Encode sends text to the remote encoder. A reply of the wrong width is a
// DimensionMismatch; transport failures are Unavailable.
func (c *Client) Encode(ctx context.Context, text string) ([]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, encodeMethod, wrapperspb.String(text), resp); err != nil {
		kind := herr.KindUnavailable
		if status.Code(err) == codes.InvalidArgument {
			kind = herr.KindInvalidArgument
		}
		return nil, herr.Wrap(err, kind, "encode rpc")
	}

	values := resp.GetValues()
	if len(values) != c.dim {
		return nil, herr.DimensionMismatch("remote encoding", c.dim, len(values))
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.GetNumberValue())
	}
	return vec, nil
}

// #endregion client
