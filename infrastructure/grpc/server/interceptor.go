package server

import (
	"context"
	"dm-relay/auth"
	"dm-relay/grpc/chatv1"
	"dm-relay/services"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Methods that do not require a token.
var publicMethods = map[string]struct{}{
	chatv1.AuthService_Login_FullMethodName:    {},
	chatv1.AuthService_Register_FullMethodName: {},
}

// AuthInterceptor validates the bearer token of unary calls and puts the
// caller identity in the context.
func AuthInterceptor(authService services.IAuthService) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublicMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		identity, err := authenticate(ctx, authService)
		if err != nil {
			return nil, err
		}
		return handler(auth.WithIdentity(ctx, identity), req)
	}
}

// StreamAuthInterceptor does the same for streams.
func StreamAuthInterceptor(authService services.IAuthService) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublicMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		identity, err := authenticate(ss.Context(), authService)
		if err != nil {
			return err
		}
		return handler(srv, &identifiedStream{ServerStream: ss, ctx: auth.WithIdentity(ss.Context(), identity)})
	}
}

type identifiedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identifiedStream) Context() context.Context {
	return s.ctx
}

func authenticate(ctx context.Context, authService services.IAuthService) (auth.Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return auth.Identity{}, status.Error(codes.Unauthenticated, "metadata is missing")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return auth.Identity{}, status.Error(codes.Unauthenticated, "authorization token is missing")
	}
	token, ok := auth.BearerToken(values[0])
	if !ok {
		return auth.Identity{}, status.Error(codes.Unauthenticated, "authorization must be a bearer token")
	}
	identity, err := authService.Authenticate(token)
	if err != nil {
		return auth.Identity{}, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return identity, nil
}

func isPublicMethod(method string) bool {
	_, ok := publicMethods[method]
	return ok
}
