package domain

import "time"

type NegotiationStatus string

const (
	// StatusNegotiation: the buyer has opened the negotiation (with or without
	// a counter-offer) and the seller has not engaged yet.
	StatusNegotiation NegotiationStatus = "negotiation"
	// StatusInNegotiation: the seller has responded at least once; live
	// back-and-forth is permitted.
	StatusInNegotiation NegotiationStatus = "in_negotiation"
	StatusAccepted      NegotiationStatus = "accepted"
	StatusRejected      NegotiationStatus = "rejected"
)

func (s NegotiationStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

func (s NegotiationStatus) Valid() bool {
	switch s {
	case StatusNegotiation, StatusInNegotiation, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

type Negotiation struct {
	ID       string `json:"id"`
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`

	// Product snapshot, read from the catalog at open time. Later catalog
	// changes do not affect an open negotiation.
	ProductID string `json:"product_id"`
	BasePrice int64  `json:"base_price"`
	Unit      string `json:"unit"`

	Quantity            int               `json:"quantity"`
	CurrentOfferAmount  int64             `json:"current_offer_amount"`
	DesiredDeliveryDate *time.Time        `json:"desired_delivery_date,omitempty"`
	Status              NegotiationStatus `json:"status"`
	Offers              []Offer           `json:"offers"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (n *Negotiation) IsParty(actorID string) bool {
	return actorID == n.BuyerID || actorID == n.SellerID
}

// NextStatusOnOffer validates an offer append against the transition table and
// returns the negotiation status after the append. last is the chronologically
// latest offer, nil when the ledger is empty.
//
// Guards, in order: the negotiation must not be terminal, the sender must be a
// party, and the sender must not own the pending offer (alternation). The
// opening offer has no predecessor and is exempt from alternation.
func NextStatusOnOffer(n *Negotiation, last *Offer, senderID string) (NegotiationStatus, error) {
	if n.Status.Terminal() {
		return n.Status, ErrInvalidTransition
	}
	if !n.IsParty(senderID) {
		return n.Status, ErrUnauthorizedSender
	}
	if last != nil && last.SenderID == senderID {
		return n.Status, ErrTurnViolation
	}
	if senderID == n.SellerID {
		return StatusInNegotiation, nil
	}
	return n.Status, nil
}

// ValidateAccept checks that actorID may accept the negotiation's current
// terms. Acceptance is only legal while in_negotiation, and only by the party
// that did NOT send the latest offer: a proposer cannot accept their own
// proposal.
func ValidateAccept(n *Negotiation, last *Offer, actorID string) error {
	if !n.IsParty(actorID) {
		return ErrUnauthorizedSender
	}
	if n.Status != StatusInNegotiation {
		return ErrInvalidTransition
	}
	if last == nil {
		return ErrInvalidTransition
	}
	if last.SenderID == actorID {
		return ErrTurnViolation
	}
	return nil
}

// ValidateReject checks that actorID may reject the negotiation. From the
// initial negotiation phase only the seller holds the reject edge; once the
// seller has engaged, either party may walk away.
func ValidateReject(n *Negotiation, actorID string) error {
	if !n.IsParty(actorID) {
		return ErrUnauthorizedSender
	}
	switch n.Status {
	case StatusNegotiation:
		if actorID != n.SellerID {
			return ErrInvalidTransition
		}
		return nil
	case StatusInNegotiation:
		return nil
	default:
		return ErrInvalidTransition
	}
}
