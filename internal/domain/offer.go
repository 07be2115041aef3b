package domain

import (
	"regexp"
	"strconv"
	"time"
)

// Offer is one immutable proposal in a negotiation's ledger. Offers are never
// edited or deleted; the ledger is append-only and insertion order is
// chronological. Offer ids are ULIDs, so lexicographic id order matches
// insertion order.
type Offer struct {
	ID                  string     `json:"id"`
	NegotiationID       string     `json:"negotiation_id"`
	SenderID            string     `json:"sender_id"`
	Amount              int64      `json:"amount"`
	Quantity            int        `json:"quantity,omitempty"`
	Message             string     `json:"message,omitempty"`
	DesiredDeliveryDate *time.Time `json:"desired_delivery_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Older clients sometimes encode quantity only in the free-text message, as in
// "can do 15 units by Friday". First integer preceding the token "units" wins.
var messageQuantityRe = regexp.MustCompile(`(?i)(\d+)\s*units\b`)

// ResolveQuantity resolves an offer's effective quantity with the three-tier
// precedence: structured field, then message text, then the quantity inherited
// from the negotiation. New clients should always send the structured field;
// the text tier exists for compatibility with older records.
func ResolveQuantity(structured int, message string, inherited int) int {
	if structured > 0 {
		return structured
	}
	if m := messageQuantityRe.FindStringSubmatch(message); m != nil {
		if qty, err := strconv.Atoi(m[1]); err == nil && qty > 0 {
			return qty
		}
	}
	return inherited
}
