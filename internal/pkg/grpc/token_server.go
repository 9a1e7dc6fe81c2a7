package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/Gopher0727/Warden/middleware/jwt"
)

const (
	TokenServiceName          = "warden.auth.v1.TokenService"
	validateAccessTokenMethod = "/" + TokenServiceName + "/ValidateAccessToken"
)

// AccessTokenValidator 校验访问令牌 (签名、签发方、受众、有效期)
type AccessTokenValidator interface {
	Authenticate(ctx context.Context, token string) (*jwt.Claims, error)
}

// TokenServiceServer 服务端接口; 消息使用 protobuf 内置包装类型
type TokenServiceServer interface {
	ValidateAccessToken(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
}

// TokenServer 供内部服务校验访问令牌
type TokenServer struct {
	validator AccessTokenValidator
}

func NewTokenServer(validator AccessTokenValidator) *TokenServer {
	return &TokenServer{validator: validator}
}

func (s *TokenServer) ValidateAccessToken(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}
	claims, err := s.validator.Authenticate(ctx, in.GetValue())
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, status.Error(codes.Unauthenticated, "token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	roles := make([]any, len(claims.Roles))
	for i, r := range claims.Roles {
		roles[i] = r
	}
	fields := map[string]any{
		"user_id":  float64(claims.UserID),
		"username": claims.UserName,
		"email":    claims.Email,
		"roles":    roles,
	}
	if claims.ExpiresAt != nil {
		fields["expires_at"] = claims.ExpiresAt.Time.UTC().Format(time.RFC3339)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode claims")
	}
	return out, nil
}

// RegisterTokenServer 注册 TokenService
func RegisterTokenServer(s grpc.ServiceRegistrar, srv TokenServiceServer) {
	s.RegisterService(&tokenServiceDesc, srv)
}

func validateAccessTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenServiceServer).ValidateAccessToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: validateAccessTokenMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TokenServiceServer).ValidateAccessToken(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var tokenServiceDesc = grpc.ServiceDesc{
	ServiceName: TokenServiceName,
	HandlerType: (*TokenServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidateAccessToken", Handler: validateAccessTokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "warden/auth/v1/token.proto",
}

// TokenClient 调用远端 TokenService
type TokenClient struct {
	cc grpc.ClientConnInterface
}

func NewTokenClient(cc grpc.ClientConnInterface) *TokenClient {
	return &TokenClient{cc: cc}
}

func (c *TokenClient) ValidateAccessToken(ctx context.Context, token string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, validateAccessTokenMethod, wrapperspb.String(token), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
