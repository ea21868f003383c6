package core

import "context"

// Event is an opaque serialized domain event plus the name used for
// logging. The core never inspects the bytes; serialization of the
// underlying domain event is an external concern.
type Event struct {
	Name string
	Body []byte
}

// BatchResult is what the batch endpoint reports back for one flush
// attempt. StatusCode is -1 for a transport-level failure, matching the
// spec's retry-classification rule.
type BatchResult struct {
	StatusCode int
}

// BatchEndpoint is the abstract "batch endpoint" the core consumes. A real
// implementation performs the HTTP POST; the core only needs the outcome.
type BatchEndpoint interface {
	SendBatch(ctx context.Context, events []Event) (BatchResult, error)
}

// DecideRequest is the payload sent to the decide endpoint.
type DecideRequest struct {
	DistinctID  string
	AnonymousID string
	Groups      map[string]string
}

// DecideResponse is the decide endpoint's response shape. FeatureFlags and
// FeatureFlagPayloads use FlagValue/string so a malformed shape (wrong JSON
// type under a key) surfaces as a decode error rather than a panic.
type DecideResponse struct {
	FeatureFlags              map[string]FlagValue
	FeatureFlagPayloads       map[string]string
	ErrorsWhileComputingFlags bool
}

// DecideEndpoint is the abstract "decide endpoint" the core consumes.
type DecideEndpoint interface {
	Decide(ctx context.Context, req DecideRequest) (DecideResponse, error)
}
