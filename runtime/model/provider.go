package model

import "context"

// Provider is the contract every vendor adapter implements (spec §4.1). A
// provider is stateless with respect to configuration: per-call credentials
// are threaded through ctx via CredentialContext so a single Provider value
// can be shared read-only across concurrent requests.
type Provider interface {
	// Infer issues a non-streaming call.
	Infer(ctx context.Context, req *Request) (*Response, error)

	// InferStream issues a streaming call. The adapters in
	// features/providers return a synchronous error when the request fails
	// before the stream opens; they do not read the first chunk before
	// returning, so an error carried by the stream itself surfaces from Recv.
	InferStream(ctx context.Context, req *Request) (Streamer, error)

	// StartBatchInference submits a batch of requests for asynchronous
	// processing. Providers that do not support batching return
	// ErrBatchUnsupported.
	StartBatchInference(ctx context.Context, reqs []BatchRequest) (*BatchStartResult, error)

	// PollBatchInference checks the status of a previously started batch.
	PollBatchInference(ctx context.Context, batchID string, perInference map[string]string) (*BatchPollResult, error)
}

// Credentials is a per-request bag of resolved secrets (e.g. a bearer token)
// threaded to a Provider call. It is never retained past the call.
type Credentials struct {
	APIKey string
	// Extra carries provider-specific secondary credentials (e.g. AWS session
	// tokens) keyed by name.
	Extra map[string]string
}

type credentialsKey struct{}

// WithCredentials attaches per-request credentials to ctx for a provider
// adapter to consume. Credentials resolved this way are never cached beyond
// the request's lifetime (spec §5, "Shared resources").
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// CredentialsFromContext retrieves credentials attached by WithCredentials.
func CredentialsFromContext(ctx context.Context) (Credentials, bool) {
	c, ok := ctx.Value(credentialsKey{}).(Credentials)
	return c, ok
}
