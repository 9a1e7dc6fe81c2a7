package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	server   *grpc.Server
	listener net.Listener
	address  string
	logger   *zap.Logger
}

// NewServer 监听 address; listener 为 nil 时自行创建
func NewServer(address string, listener net.Listener, logger *zap.Logger) (*Server, error) {
	if listener == nil {
		l, err := net.Listen("tcp", address)
		if err != nil {
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
		listener = l
	}

	s := &Server{listener: listener, address: address, logger: logger}
	s.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor, s.unaryLoggingInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor, s.streamLoggingInterceptor),
	)
	return s, nil
}

func (s *Server) unaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	resp, err = handler(ctx, req)
	s.logger.Info("gRPC call",
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
		zap.String("code", status.Code(err).String()),
	)
	return resp, err
}

func (s *Server) streamLoggingInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	code := codes.OK
	if err != nil {
		code = status.Code(err)
	}
	s.logger.Info("gRPC stream call",
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
		zap.String("code", code.String()),
	)
	return err
}

// Start 注册完服务后调用; 阻塞直到 Stop
func (s *Server) Start() error {
	grpc_prometheus.Register(s.server)
	s.logger.Info("starting gRPC server", zap.String("address", s.address))
	return s.server.Serve(s.listener)
}

func (s *Server) Stop() {
	s.logger.Info("stopping gRPC server")
	s.server.GracefulStop()
}

// GetServer 获取底层 gRPC 服务器（用于注册服务）
func (s *Server) GetServer() *grpc.Server {
	return s.server
}
