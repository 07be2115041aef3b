package negotiations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"

	"procureflow/internal/domain"
)

// NegotiationRepository persists negotiations and their offer ledgers. Every
// mutation runs in a transaction that locks the negotiation row, so two
// parties racing on the same negotiation are serialized and the loser fails
// against the committed state.
type NegotiationRepository struct {
	db *sql.DB
}

func NewNegotiationRepository(db *sql.DB) *NegotiationRepository {
	return &NegotiationRepository{db: db}
}

type OpenParams struct {
	BuyerID   string
	SellerID  string
	ProductID string
	BasePrice int64
	Unit      string
	Quantity  int

	// Opening counter-offer. When Amount is zero the buyer opens against the
	// listed price with an empty ledger.
	Amount              int64
	Message             string
	DesiredDeliveryDate *time.Time
}

func (r *NegotiationRepository) Open(ctx context.Context, params OpenParams) (*domain.Negotiation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	n := &domain.Negotiation{
		ID:                  uuid.New().String(),
		BuyerID:             params.BuyerID,
		SellerID:            params.SellerID,
		ProductID:           params.ProductID,
		BasePrice:           params.BasePrice,
		Unit:                params.Unit,
		Quantity:            params.Quantity,
		CurrentOfferAmount:  params.BasePrice,
		DesiredDeliveryDate: params.DesiredDeliveryDate,
		Status:              domain.StatusNegotiation,
		Offers:              []domain.Offer{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if params.Amount > 0 {
		offer := domain.Offer{
			ID:                  ulid.Make().String(),
			NegotiationID:       n.ID,
			SenderID:            params.BuyerID,
			Amount:              params.Amount,
			Quantity:            params.Quantity,
			Message:             params.Message,
			DesiredDeliveryDate: params.DesiredDeliveryDate,
			CreatedAt:           now,
		}
		n.CurrentOfferAmount = params.Amount
		n.Offers = []domain.Offer{offer}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO negotiations (id, buyer_id, seller_id, product_id, base_price, unit,
			quantity, current_offer_amount, desired_delivery_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, n.ID, n.BuyerID, n.SellerID, n.ProductID, n.BasePrice, n.Unit,
		n.Quantity, n.CurrentOfferAmount, n.DesiredDeliveryDate, n.Status, now)
	if err != nil {
		return nil, err
	}

	for _, offer := range n.Offers {
		if err := insertOffer(ctx, tx, offer); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return n, nil
}

type AppendOfferParams struct {
	NegotiationID       string
	SenderID            string
	Amount              int64
	Quantity            int
	Message             string
	DesiredDeliveryDate *time.Time
}

// AppendOffer appends to the ledger and recomputes the negotiation status in
// one transaction. Quantity resolution follows the three-tier precedence in
// domain.ResolveQuantity.
func (r *NegotiationRepository) AppendOffer(ctx context.Context, params AppendOfferParams) (*domain.Negotiation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := lockNegotiation(ctx, tx, params.NegotiationID)
	if err != nil {
		return nil, err
	}

	last, err := latestOffer(ctx, tx, n.ID)
	if err != nil {
		return nil, err
	}

	nextStatus, err := domain.NextStatusOnOffer(n, last, params.SenderID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	offer := domain.Offer{
		ID:                  ulid.Make().String(),
		NegotiationID:       n.ID,
		SenderID:            params.SenderID,
		Amount:              params.Amount,
		Quantity:            params.Quantity,
		Message:             params.Message,
		DesiredDeliveryDate: params.DesiredDeliveryDate,
		CreatedAt:           now,
	}
	if err := insertOffer(ctx, tx, offer); err != nil {
		return nil, err
	}

	n.Status = nextStatus
	n.CurrentOfferAmount = offer.Amount
	n.Quantity = domain.ResolveQuantity(offer.Quantity, offer.Message, n.Quantity)
	if offer.DesiredDeliveryDate != nil {
		n.DesiredDeliveryDate = offer.DesiredDeliveryDate
	}
	n.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE negotiations
		SET status = $2, current_offer_amount = $3, quantity = $4,
			desired_delivery_date = $5, updated_at = $6
		WHERE id = $1
	`, n.ID, n.Status, n.CurrentOfferAmount, n.Quantity, n.DesiredDeliveryDate, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, n.ID)
}

// Accept moves the negotiation to accepted. Only the counterparty of the
// latest offer may accept, and only while in_negotiation.
func (r *NegotiationRepository) Accept(ctx context.Context, id, actorID string) (*domain.Negotiation, error) {
	return r.close(ctx, id, actorID, domain.StatusAccepted)
}

// Reject moves the negotiation to rejected.
func (r *NegotiationRepository) Reject(ctx context.Context, id, actorID string) (*domain.Negotiation, error) {
	return r.close(ctx, id, actorID, domain.StatusRejected)
}

func (r *NegotiationRepository) close(ctx context.Context, id, actorID string, target domain.NegotiationStatus) (*domain.Negotiation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := lockNegotiation(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	switch target {
	case domain.StatusAccepted:
		last, err := latestOffer(ctx, tx, n.ID)
		if err != nil {
			return nil, err
		}
		if err := domain.ValidateAccept(n, last, actorID); err != nil {
			return nil, err
		}
	case domain.StatusRejected:
		if err := domain.ValidateReject(n, actorID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE negotiations SET status = $2, updated_at = $3 WHERE id = $1
	`, n.ID, target, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, n.ID)
}

func (r *NegotiationRepository) GetByID(ctx context.Context, id string) (*domain.Negotiation, error) {
	n := &domain.Negotiation{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, seller_id, product_id, base_price, unit, quantity,
			current_offer_amount, desired_delivery_date, status, created_at, updated_at
		FROM negotiations
		WHERE id = $1
	`, id).Scan(&n.ID, &n.BuyerID, &n.SellerID, &n.ProductID, &n.BasePrice, &n.Unit,
		&n.Quantity, &n.CurrentOfferAmount, &n.DesiredDeliveryDate, &n.Status,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	// An empty ledger serializes as [], matching the List view.
	n.Offers = []domain.Offer{}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, negotiation_id, sender_id, amount, quantity, message,
			desired_delivery_date, created_at
		FROM offers
		WHERE negotiation_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var offer domain.Offer
		if err := rows.Scan(&offer.ID, &offer.NegotiationID, &offer.SenderID, &offer.Amount,
			&offer.Quantity, &offer.Message, &offer.DesiredDeliveryDate, &offer.CreatedAt); err != nil {
			return nil, err
		}
		n.Offers = append(n.Offers, offer)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return n, nil
}

type ListFilter struct {
	Status  domain.NegotiationStatus
	PartyID string
}

// List returns negotiations newest first, with their ledgers attached. Both
// filter fields are optional.
func (r *NegotiationRepository) List(ctx context.Context, filter ListFilter) ([]domain.Negotiation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, buyer_id, seller_id, product_id, base_price, unit, quantity,
			current_offer_amount, desired_delivery_date, status, created_at, updated_at
		FROM negotiations
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR buyer_id = $2 OR seller_id = $2)
		ORDER BY created_at DESC
	`, string(filter.Status), filter.PartyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	negotiationMap := make(map[string]*domain.Negotiation)
	var ids []string

	for rows.Next() {
		var n domain.Negotiation
		if err := rows.Scan(&n.ID, &n.BuyerID, &n.SellerID, &n.ProductID, &n.BasePrice, &n.Unit,
			&n.Quantity, &n.CurrentOfferAmount, &n.DesiredDeliveryDate, &n.Status,
			&n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		n.Offers = []domain.Offer{}
		negotiationMap[n.ID] = &n
		ids = append(ids, n.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []domain.Negotiation{}, nil
	}

	offerRows, err := r.db.QueryContext(ctx, `
		SELECT id, negotiation_id, sender_id, amount, quantity, message,
			desired_delivery_date, created_at
		FROM offers
		WHERE negotiation_id = ANY($1)
		ORDER BY id
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = offerRows.Close() }()

	for offerRows.Next() {
		var offer domain.Offer
		if err := offerRows.Scan(&offer.ID, &offer.NegotiationID, &offer.SenderID, &offer.Amount,
			&offer.Quantity, &offer.Message, &offer.DesiredDeliveryDate, &offer.CreatedAt); err != nil {
			return nil, err
		}
		n := negotiationMap[offer.NegotiationID]
		n.Offers = append(n.Offers, offer)
	}

	if err := offerRows.Err(); err != nil {
		return nil, err
	}

	negotiations := make([]domain.Negotiation, 0, len(ids))
	for _, id := range ids {
		negotiations = append(negotiations, *negotiationMap[id])
	}

	return negotiations, nil
}

func lockNegotiation(ctx context.Context, tx *sql.Tx, id string) (*domain.Negotiation, error) {
	n := &domain.Negotiation{}

	err := tx.QueryRowContext(ctx, `
		SELECT id, buyer_id, seller_id, product_id, base_price, unit, quantity,
			current_offer_amount, desired_delivery_date, status, created_at, updated_at
		FROM negotiations
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&n.ID, &n.BuyerID, &n.SellerID, &n.ProductID, &n.BasePrice, &n.Unit,
		&n.Quantity, &n.CurrentOfferAmount, &n.DesiredDeliveryDate, &n.Status,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	return n, nil
}

// latestOffer returns the most recent ledger entry, nil for an empty ledger.
// Offer ids are ULIDs, so max(id) is the chronologically last offer.
func latestOffer(ctx context.Context, tx *sql.Tx, negotiationID string) (*domain.Offer, error) {
	offer := &domain.Offer{}

	err := tx.QueryRowContext(ctx, `
		SELECT id, negotiation_id, sender_id, amount, quantity, message,
			desired_delivery_date, created_at
		FROM offers
		WHERE negotiation_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, negotiationID).Scan(&offer.ID, &offer.NegotiationID, &offer.SenderID, &offer.Amount,
		&offer.Quantity, &offer.Message, &offer.DesiredDeliveryDate, &offer.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return offer, nil
}

func insertOffer(ctx context.Context, tx *sql.Tx, offer domain.Offer) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offers (id, negotiation_id, sender_id, amount, quantity, message,
			desired_delivery_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, offer.ID, offer.NegotiationID, offer.SenderID, offer.Amount, offer.Quantity,
		offer.Message, offer.DesiredDeliveryDate, offer.CreatedAt)
	return err
}
