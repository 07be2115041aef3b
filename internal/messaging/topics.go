package messaging

// TopicNegotiationAccepted carries domain.NegotiationAcceptedEvent payloads,
// keyed by negotiation id so per-negotiation ordering is preserved.
const TopicNegotiationAccepted = "negotiation.accepted"
