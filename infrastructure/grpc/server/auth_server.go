package server

import (
	"context"
	"dm-relay/auth"
	"dm-relay/errors"
	"dm-relay/grpc/chatv1"
	"dm-relay/services"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

type AuthServer struct {
	chatv1.UnimplementedAuthServiceServer
	authService services.IAuthService
}

func NewAuthServer(authService services.IAuthService) *AuthServer {
	return &AuthServer{authService: authService}
}

// Register creates an account and returns its credentials.
func (s *AuthServer) Register(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req auth.RegisterRequest
	if err := chatv1.FromStruct(in, &req); err != nil {
		return nil, errors.MapToGRPCError(fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
	}
	credentials, err := s.authService.Register(ctx, req)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return chatv1.ToStruct(credentials)
}

func (s *AuthServer) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req auth.LoginRequest
	if err := chatv1.FromStruct(in, &req); err != nil {
		return nil, errors.MapToGRPCError(fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
	}
	credentials, err := s.authService.Login(ctx, req)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return chatv1.ToStruct(credentials)
}
