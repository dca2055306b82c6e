package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownToken is returned when a bearer token matches no configured owner.
var ErrUnknownToken = errors.New("unknown token")

// StaticVerifier maps pre-shared bearer tokens to owner IDs.
type StaticVerifier struct {
	owners map[string]string
}

// NewStaticVerifier parses a "token:owner,token:owner" list into a verifier.
func NewStaticVerifier(spec string) (*StaticVerifier, error) {
	owners := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, owner, ok := strings.Cut(pair, ":")
		if !ok || token == "" || owner == "" {
			return nil, fmt.Errorf("NewStaticVerifier: invalid token entry %q", pair)
		}
		owners[token] = owner
	}
	if len(owners) == 0 {
		return nil, errors.New("NewStaticVerifier: no tokens configured")
	}
	return &StaticVerifier{owners: owners}, nil
}

// Verify resolves the token to an owner ID.
func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	owner, ok := v.owners[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return owner, nil
}

var _ TokenVerifier = (*StaticVerifier)(nil)
