package ratelimit

import (
	"errors"
	"net/http"
)

// Logger is a simple interface for logging.
// Users can provide their own logger that implements this interface.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger is a default logger that does nothing.
// It is used when no logger is provided to avoid nil panics.
type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...interface{}) {}
func (l *noopLogger) Warnf(format string, args ...interface{})  {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return &noopLogger{} }

// ErrLimitExceeded is a sentinel error passed to the ErrorHandler when the
// rate limit is surpassed. Custom handlers can check for this condition.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// KeyFunc extracts a unique client identifier from an incoming HTTP request.
// The returned string is used as the key for the rate limiter. Common
// implementations use the client's IP address, the authenticated caller
// identity, or a combination of both.
type KeyFunc func(r *http.Request) (string, error)

// ErrorHandler defines how to respond to a client when a rate limit is
// exceeded. This gives the user full control over the status code, headers,
// and body of the error response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error, result Result)

// Config holds all configurable parameters for the middleware.
// It is an internal struct that users interact with via functional options.
type Config struct {
	// ErrorHandler, when set, replaces the middleware's structured 429
	// envelope with a custom response.
	ErrorHandler ErrorHandler
	Logger       Logger
}

// Option applies a configuration setting to a Config struct.
type Option func(*Config)

// NewConfig creates a Config instance with default settings and then applies
// any provided functional options.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Logger: &noopLogger{},
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithErrorHandler returns an Option that sets a custom handler for rate
// limit rejections. Useful for sending structured JSON error responses.
func WithErrorHandler(f ErrorHandler) Option {
	return func(c *Config) {
		if f != nil {
			c.ErrorHandler = f
		}
	}
}

// WithLogger returns an Option that sets a custom logger.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}
