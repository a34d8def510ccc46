package fetch

import "fmt"

// Outcome classifies a single endpoint attempt
type Outcome string

const (
	// OutcomeSuccess represents a usable image
	OutcomeSuccess Outcome = "success"
	// OutcomeTimeout represents an attempt that exceeded the endpoint timeout
	OutcomeTimeout Outcome = "timeout"
	// OutcomeTransportError represents a connection, DNS or HTTP status failure
	OutcomeTransportError Outcome = "transport error"
	// OutcomeInvalidPayload represents an empty or non-image body
	OutcomeInvalidPayload Outcome = "invalid payload"
	// OutcomeRenderFailure represents a local render collaborator error
	OutcomeRenderFailure Outcome = "render failure"
)

// Attempt records why one endpoint failed
type Attempt struct {
	Endpoint string
	Outcome  Outcome
	Err      error
}

// String returns a single line diagnostic for the attempt
func (a Attempt) String() string {
	return fmt.Sprintf("%s: %s: %s", a.Endpoint, a.Outcome, a.Err)
}

// Result represents the outcome of one failover pass over the registry.
// Attempts holds the per-endpoint failure reasons in try order, also when
// a later endpoint succeeded.
type Result struct {
	Success     bool
	Payload     []byte
	ContentType string
	Source      string
	Attempts    []Attempt
}
