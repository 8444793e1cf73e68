package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidJWT      = errors.New("invalid JWT token")
	ErrExpiredJWT      = errors.New("JWT token expired")
	ErrUnauthenticated = errors.New("authentication required")
	ErrTenantMismatch  = errors.New("token tenant does not match user tenant")
)

// Claims represents JWT claims with tenant context
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the resolved identity behind a verified credential.
type Principal struct {
	UserID   string
	TenantID string
	Email    string
	Role     string
}

// GenerateJWT creates a new JWT token for web sessions
func GenerateJWT(userID, tenantID, email, role string, secret []byte) (string, error) {
	claims := &Claims{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateJWT validates a JWT token and returns its claims
func ValidateJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify the signing method to prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredJWT
		}
		return nil, ErrInvalidJWT
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidJWT
}

// Verifier resolves a session credential to a Principal. It is the boundary
// to the external authentication service: implementations may check the
// user/tenant state in another system before admitting the principal.
type Verifier interface {
	Verify(credential string) (*Principal, error)
}

// JWTVerifier verifies locally-signed session JWTs. When UserTenant is set
// it is consulted after signature validation to confirm the tenant embedded
// in the credential still matches the user's current tenant; a user moved to
// another venue keeps failing with ErrTenantMismatch until re-issued a
// session.
type JWTVerifier struct {
	Secret     []byte
	UserTenant func(userID string) (string, bool)
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(credential string) (*Principal, error) {
	if credential == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := ValidateJWT(credential, v.Secret)
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.TenantID == "" {
		return nil, ErrInvalidJWT
	}
	if v.UserTenant != nil {
		current, ok := v.UserTenant(claims.UserID)
		if !ok || current != claims.TenantID {
			return nil, ErrTenantMismatch
		}
	}
	return &Principal{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Email:    claims.Email,
		Role:     claims.Role,
	}, nil
}
