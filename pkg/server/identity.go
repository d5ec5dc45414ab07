package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"mercator-hq/tally/pkg/config"
)

// ErrUnauthenticated is returned by a resolver when the request carries no
// verified identity.
var ErrUnauthenticated = errors.New("request carries no verified identity")

// Caller is the verified requester.
type Caller struct {
	Identity  string
	IsPremium bool
}

// IdentityResolver extracts the verified caller from a request.
type IdentityResolver interface {
	Resolve(r *http.Request) (Caller, error)
}

// HeaderResolver trusts identity headers set by an upstream verifier.
type HeaderResolver struct {
	IdentityHeader string
	PremiumHeader  string
}

// NewHeaderResolver creates a resolver from the server section.
func NewHeaderResolver(cfg config.ServerConfig) *HeaderResolver {
	r := &HeaderResolver{
		IdentityHeader: cfg.IdentityHeader,
		PremiumHeader:  cfg.PremiumHeader,
	}
	if r.IdentityHeader == "" {
		r.IdentityHeader = config.DefaultIdentityHeader
	}
	if r.PremiumHeader == "" {
		r.PremiumHeader = config.DefaultPremiumHeader
	}
	return r
}

// Resolve implements IdentityResolver. A missing or unparsable premium
// header means a free caller.
func (h *HeaderResolver) Resolve(r *http.Request) (Caller, error) {
	identity := strings.TrimSpace(r.Header.Get(h.IdentityHeader))
	if identity == "" {
		return Caller{}, ErrUnauthenticated
	}
	premium, _ := strconv.ParseBool(strings.TrimSpace(r.Header.Get(h.PremiumHeader)))
	return Caller{Identity: identity, IsPremium: premium}, nil
}
