// Package gateway wires the admission controller and the upload integrity
// pipeline to route classes. It owns the reference policy table and the
// ordering guarantee for upload routes: admission first, pipeline second, so
// an over-limit caller never costs a byte of validation work.
package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deskgate/deskgate/identity"
	"github.com/deskgate/deskgate/middleware"
	"github.com/deskgate/deskgate/ratelimit"
	"github.com/deskgate/deskgate/upload"
)

// Class tags a group of routes sharing one rate-limit policy.
type Class string

const (
	// ClassAuth covers authentication attempts (login, password reset).
	ClassAuth Class = "auth"
	// ClassGeneral covers unauthenticated general API traffic.
	ClassGeneral Class = "general"
	// ClassStrict covers sensitive mutating endpoints.
	ClassStrict Class = "strict"
	// ClassUpload covers file-accepting routes.
	ClassUpload Class = "upload"
	// ClassAPI covers authenticated API traffic.
	ClassAPI Class = "api"
	// ClassSearch covers search endpoints.
	ClassSearch Class = "search"
)

// DefaultPolicies returns the reference policy table. jwtSecret feeds
// identity extraction for the identity-keyed classes; an empty secret simply
// keys everything by IP.
//
// The table is the documented reference configuration, replaceable at deploy
// time through Options.Policies.
func DefaultPolicies(jwtSecret []byte) map[Class]ratelimit.Policy {
	return map[Class]ratelimit.Policy{
		ClassAuth: {
			Name:          string(ClassAuth),
			Window:        15 * time.Minute,
			MaxRequests:   5,
			KeyFunc:       AuthKeyFunc(),
			SkipOnSuccess: true, // a successful login is not an attempt
		},
		ClassGeneral: {
			Name:        string(ClassGeneral),
			Window:      15 * time.Minute,
			MaxRequests: 100,
			KeyFunc:     IPKeyFunc(),
		},
		ClassStrict: {
			Name:        string(ClassStrict),
			Window:      time.Minute,
			MaxRequests: 10,
			KeyFunc:     IPKeyFunc(),
		},
		ClassUpload: {
			Name:        string(ClassUpload),
			Window:      time.Minute,
			MaxRequests: 5,
			KeyFunc:     IPAndIdentityKeyFunc(jwtSecret),
		},
		ClassAPI: {
			Name:        string(ClassAPI),
			Window:      time.Minute,
			MaxRequests: 60,
			KeyFunc:     IdentityOrIPKeyFunc(jwtSecret),
		},
		ClassSearch: {
			Name:        string(ClassSearch),
			Window:      time.Minute,
			MaxRequests: 20,
			KeyFunc:     IdentityOrIPKeyFunc(jwtSecret),
		},
	}
}

// IPKeyFunc keys a bucket by client IP alone.
func IPKeyFunc() ratelimit.KeyFunc {
	return func(r *http.Request) (string, error) {
		return middleware.ClientIP(r), nil
	}
}

// AuthKeyFunc keys authentication attempts by client IP plus the submitted
// identifier, so an attacker rotating target accounts from one address and
// an attacker rotating addresses against one account both hit a wall.
func AuthKeyFunc() ratelimit.KeyFunc {
	return func(r *http.Request) (string, error) {
		email := strings.ToLower(strings.TrimSpace(r.PostFormValue("email")))
		if email == "" {
			return middleware.ClientIP(r), nil
		}
		return middleware.ClientIP(r) + ":" + email, nil
	}
}

// IPAndIdentityKeyFunc keys a bucket by client IP plus the authenticated
// caller, keeping one tenant's uploads from consuming a shared NAT's budget.
func IPAndIdentityKeyFunc(secret []byte) ratelimit.KeyFunc {
	return func(r *http.Request) (string, error) {
		ip := middleware.ClientIP(r)
		if id := identity.FromRequest(r, secret); id != "" {
			return ip + ":" + id, nil
		}
		return ip, nil
	}
}

// IdentityOrIPKeyFunc keys a bucket by the authenticated caller, falling back
// to client IP for anonymous traffic.
func IdentityOrIPKeyFunc(secret []byte) ratelimit.KeyFunc {
	return func(r *http.Request) (string, error) {
		if id := identity.FromRequest(r, secret); id != "" {
			return "user:" + id, nil
		}
		return middleware.ClientIP(r), nil
	}
}

// Options configures a Gateway.
type Options struct {
	// Store is the shared counter backend. Nil disables enforcement: every
	// admission check admits (fail-open without a configured backend).
	Store ratelimit.Store
	// Policies overrides the default policy table.
	Policies map[Class]ratelimit.Policy
	// Pipeline validates uploads. Nil gets the default pipeline.
	Pipeline *upload.Pipeline
	// Upload configures the multipart surface of the upload guard.
	Upload middleware.UploadOptions
	// JWTSecret verifies bearer tokens for identity-keyed policies.
	JWTSecret []byte
	// Logger receives fail-open and refund diagnostics. Nil discards.
	Logger ratelimit.Logger
}

// Gateway holds one limiter per route class and the upload pipeline.
// Construct it once at startup; it is safe for concurrent use.
type Gateway struct {
	policies map[Class]ratelimit.Policy
	limiters map[Class]*ratelimit.FixedWindowLimiter
	pipeline *upload.Pipeline
	uploads  middleware.UploadOptions
	logger   ratelimit.Logger
}

// New creates a Gateway from opts.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = ratelimit.NopLogger()
	}
	policies := opts.Policies
	if policies == nil {
		policies = DefaultPolicies(opts.JWTSecret)
	}
	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline = upload.New(upload.Config{})
	}
	uploads := opts.Upload
	if uploads.Logger == nil {
		uploads.Logger = logger
	}

	g := &Gateway{
		policies: policies,
		limiters: make(map[Class]*ratelimit.FixedWindowLimiter, len(policies)),
		pipeline: pipeline,
		uploads:  uploads,
		logger:   logger,
	}
	for class, policy := range policies {
		g.limiters[class] = ratelimit.NewFixedWindow(opts.Store, policy.MaxRequests, policy.Window, logger)
	}
	return g
}

// Policy returns the policy bound to a class.
func (g *Gateway) Policy(class Class) (ratelimit.Policy, bool) {
	p, ok := g.policies[class]
	return p, ok
}

// Admission returns the admission middleware for a route class. An unknown
// class yields a pass-through handler; misconfigured routing must not turn
// into a blanket denial.
func (g *Gateway) Admission(class Class) gin.HandlerFunc {
	limiter, ok := g.limiters[class]
	if !ok {
		g.logger.Warnf("no policy for route class %q, admitting unchecked", class)
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.Admission(limiter, g.policies[class], ratelimit.WithLogger(g.logger))
}

// UploadGuard returns the upload validation middleware. Mount it after
// Admission(ClassUpload) on file-accepting routes.
func (g *Gateway) UploadGuard() gin.HandlerFunc {
	return middleware.UploadGuard(g.pipeline, g.uploads)
}

// Protect returns the full middleware chain for a route class: admission
// first, and for the upload class the integrity pipeline behind it.
func (g *Gateway) Protect(class Class) []gin.HandlerFunc {
	if class == ClassUpload {
		return []gin.HandlerFunc{g.Admission(class), g.UploadGuard()}
	}
	return []gin.HandlerFunc{g.Admission(class)}
}
