// Package httpclient provides an instrumented JSON HTTP client with OTEL
// tracing and metrics.
package httpclient

import "time"

// ResponseErrorHandler maps a status code and body to an error; returning
// nil accepts the response.
type ResponseErrorHandler func(statusCode int, body []byte) error

type options struct {
	providerName   string
	requestTimeout time.Duration
	headers        map[string]string
	baseURL        string
	errorHandler   ResponseErrorHandler
}

// Option configures a Client.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithProviderName tags metrics and traces with the provider.
func WithProviderName(name string) Option {
	return func(o *options) {
		o.providerName = name
	}
}

// WithRequestTimeout overrides the default request timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = timeout
	}
}

// WithHeaders sets default headers for all requests.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		o.headers = headers
	}
}

// WithBaseURL sets the base URL prefixed to relative paths.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithResponseErrorHandler installs a provider-specific error mapper.
func WithResponseErrorHandler(handler ResponseErrorHandler) Option {
	return func(o *options) {
		o.errorHandler = handler
	}
}
