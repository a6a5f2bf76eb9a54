// Package auth provides minimal authentication helpers for the control
// plane.
//
// It avoids policy decisions and storage concerns; callers decide which
// routes require a token.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken is a validator for a single shared token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// KeySet accepts any of several API keys. Blank keys are ignored.
type KeySet []StaticToken

func NewKeySet(keys ...string) KeySet {
	set := make(KeySet, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		set = append(set, StaticToken{Token: k})
	}
	return set
}

// Enabled reports whether any key is configured.
func (k KeySet) Enabled() bool {
	return len(k) > 0
}

func (k KeySet) Validate(token string) error {
	ok := false
	for _, key := range k {
		if key.Validate(token) == nil {
			ok = true
		}
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// TokenFromHeaders extracts a token from an X-API-Key value or, failing
// that, a bearer Authorization value.
func TokenFromHeaders(apiKey, authorization string) string {
	if v := strings.TrimSpace(apiKey); v != "" {
		return v
	}
	v := strings.TrimSpace(authorization)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}
