package auth

import (
	"context"
	"dm-relay/errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)
	password := "Correct-Horse-Battery-9"

	hash, err := HashPassword(password)
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$argon2id$"))

	match, err := ComparePassword(password, hash)
	req.NoError(err)
	req.True(match)

	match, err = ComparePassword("wrong-password", hash)
	req.NoError(err)
	req.False(match)

	_, err = ComparePassword(password, "$bcrypt$garbage")
	req.Error(err)
}

func TestRegistrationValidation(t *testing.T) {
	tests := []struct {
		name string
		req  RegisterRequest
		err  error
	}{
		{"valid request", RegisterRequest{"alice", "alice@example.com", "ComplexPass123!"}, nil},
		{"missing username", RegisterRequest{"", "alice@example.com", "ComplexPass123!"}, errors.ErrValidation},
		{"invalid email", RegisterRequest{"alice", "notanemail", "ComplexPass123!"}, errors.ErrValidation},
		{"password too short", RegisterRequest{"alice", "alice@example.com", "Short1!"}, errors.ErrValidation},
		{"password too long", RegisterRequest{"alice", "alice@example.com", strings.Repeat("a", 73)}, errors.ErrValidation},
		{"missing digit", RegisterRequest{"alice", "alice@example.com", "NoDigitPass!"}, errors.ErrInvalidPassword},
		{"missing special char", RegisterRequest{"alice", "alice@example.com", "NoSpecialChar123"}, errors.ErrInvalidPassword},
		{"missing uppercase", RegisterRequest{"alice", "alice@example.com", "nouppercase123!"}, errors.ErrInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			err := ValidateRegister(tt.req)
			if tt.err == nil {
				req.NoError(err)
				return
			}
			req.ErrorIs(err, tt.err)
		})
	}
}

func TestAuthenticator_Roundtrip(t *testing.T) {
	req := require.New(t)
	authenticator := NewAuthenticator("test-secret", time.Hour)

	token, err := authenticator.GenerateToken("user-123", "alice", []string{"user"})
	req.NoError(err)

	claims, err := authenticator.ValidateToken(token)
	req.NoError(err)
	req.Equal("user-123", claims.UserID)
	req.Equal("alice", claims.Username)
	req.Equal([]string{"user"}, claims.Roles)

	identity := IdentityFromClaims(claims)
	ctx := WithIdentity(context.Background(), identity)
	got, ok := FromContext(ctx)
	req.True(ok)
	req.Equal("user-123", got.UserID)
}

func TestAuthenticator_Rejections(t *testing.T) {
	req := require.New(t)
	authenticator := NewAuthenticator("test-secret", time.Hour)

	_, err := authenticator.ValidateToken("not-a-token")
	req.ErrorIs(err, errors.ErrUnauthenticated)

	// Signed with another secret
	other, err := NewAuthenticator("other-secret", time.Hour).GenerateToken("u", "bob", nil)
	req.NoError(err)
	_, err = authenticator.ValidateToken(other)
	req.ErrorIs(err, errors.ErrUnauthenticated)

	// Expired
	expired := NewAuthenticator("test-secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := expired.GenerateToken("u", "bob", nil)
	req.NoError(err)
	_, err = authenticator.ValidateToken(token)
	req.ErrorIs(err, errors.ErrUnauthenticated)
}

func TestBearerToken(t *testing.T) {
	req := require.New(t)

	token, ok := BearerToken("Bearer abc.def")
	req.True(ok)
	req.Equal("abc.def", token)

	token, ok = BearerToken("bearer xyz")
	req.True(ok)
	req.Equal("xyz", token)

	_, ok = BearerToken("Basic abc")
	req.False(ok)
	_, ok = BearerToken("Bearer ")
	req.False(ok)
}

func BenchmarkHashPassword(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = HashPassword("A-very-long-and-complex-password-for-bench-123!")
	}
}
