package auth

import (
	"errors"
	"os"
)

var (
	ErrMissingServiceToken = errors.New("service token not provided")
	ErrInvalidServiceToken = errors.New("invalid service token")
)

// ValidateServiceToken checks the shared token presented by a sibling POS
// service against the expected value.
func ValidateServiceToken(token, expectedToken string) error {
	if token == "" {
		return ErrMissingServiceToken
	}
	if token != expectedToken {
		return ErrInvalidServiceToken
	}
	return nil
}

// GetServiceToken reads the shared service token from the environment.
func GetServiceToken() string {
	return os.Getenv("SERVICE_TOKEN")
}
