package audit

import (
	"context"
	"time"

	"github.com/mssola/useragent"

	"attestor/pkg/requestcontext"
)

// EventType names a lifecycle event in the issuance pipeline.
type EventType string

const (
	EventVerificationSubmitted EventType = "verification.submitted"
	EventAttestationIssued     EventType = "attestation.issued"
	EventAttestationFailed     EventType = "attestation.failed"
)

// Event is emitted from the issuance coordinator to capture key actions.
// Keep it transport-agnostic so sinks can fan out.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Identity       string    `json:"identity"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	ClientIP       string    `json:"client_ip,omitempty"`
	ClientPlatform string    `json:"client_platform,omitempty"`
	At             time.Time `json:"at"`
}

// NewEvent builds an event enriched with request metadata pulled from the
// context (request ID, client IP, and the platform parsed from the
// User-Agent).
func NewEvent(ctx context.Context, eventType EventType, identity string) Event {
	ev := Event{
		Type:      eventType,
		Identity:  identity,
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
	}
	if ua := requestcontext.UserAgent(ctx); ua != "" {
		parsed := useragent.New(ua)
		name, _ := parsed.Browser()
		platform := parsed.Platform()
		if platform != "" && name != "" {
			ev.ClientPlatform = platform + "/" + name
		} else if name != "" {
			ev.ClientPlatform = name
		} else {
			ev.ClientPlatform = platform
		}
	}
	return ev
}
