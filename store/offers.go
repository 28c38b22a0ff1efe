package store

import (
	"context"
	"fmt"

	"github.com/rawblock/lightwallet/chain"
)

// OfferStatus is the finite state machine an offer moves through:
// Pending -> Active -> {Completed, Cancelled, Expired}; no reverse transition.
type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferActive    OfferStatus = "active"
	OfferCompleted OfferStatus = "completed"
	OfferCancelled OfferStatus = "cancelled"
	OfferExpired   OfferStatus = "expired"
)

var offerTransitions = map[OfferStatus]map[OfferStatus]bool{
	OfferPending: {OfferActive: true},
	OfferActive:  {OfferCompleted: true, OfferCancelled: true, OfferExpired: true},
}

// Offer is the store's row shape for an offer.
type Offer struct {
	ID                  chain.Hash
	Blob                string
	Status              OfferStatus
	Fee                 uint64
	ExpirationHeight    *uint32
	ExpirationTimestamp *int64
	InsertedAt          int64
}

// InsertOffer records a new offer, always starting Pending.
func (t *Tx) InsertOffer(ctx context.Context, o Offer) error {
	o.Status = OfferPending
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO offers (offer_id, offer_blob, status, fee, expiration_height, expiration_timestamp, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(offer_id) DO NOTHING
	`, o.ID[:], o.Blob, string(o.Status), o.Fee, o.ExpirationHeight, o.ExpirationTimestamp, o.InsertedAt)
	if err != nil {
		return fmt.Errorf("store: insert offer %s: %w", o.ID, err)
	}
	return nil
}

// SetOfferStatus performs a guarded FSM transition.
// A transition not present in offerTransitions is rejected with an error
// without touching the row, so an out-of-order status update from a racing
// queue run leaves the row unchanged rather than corrupting it.
func (t *Tx) SetOfferStatus(ctx context.Context, id chain.Hash, newStatus OfferStatus) error {
	row := t.tx.QueryRowContext(ctx, `SELECT status FROM offers WHERE offer_id = ?`, id[:])
	var current string
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("store: set offer status %s: %w", id, err)
	}
	if !offerTransitions[OfferStatus(current)][newStatus] {
		return fmt.Errorf("store: offer %s: invalid transition %s -> %s", id, current, newStatus)
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE offers SET status = ? WHERE offer_id = ?`, string(newStatus), id[:])
	return err
}

// ActiveOffers returns every offer whose status is Active, for the offer
// queue's periodic expiry/completion sweep.
func (s *Store) ActiveOffers(ctx context.Context) ([]Offer, error) {
	return s.offersByStatus(ctx, OfferActive)
}

func (s *Store) offersByStatus(ctx context.Context, status OfferStatus) ([]Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT offer_id, offer_blob, status, fee, expiration_height, expiration_timestamp, inserted_at
		FROM offers WHERE status = ?
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: offers by status %s: %w", status, err)
	}
	defer rows.Close()
	var out []Offer
	for rows.Next() {
		var o Offer
		var id []byte
		var st string
		if err := rows.Scan(&id, &o.Blob, &st, &o.Fee, &o.ExpirationHeight, &o.ExpirationTimestamp, &o.InsertedAt); err != nil {
			return nil, err
		}
		o.ID, _ = chain.HashFromBytes(id)
		o.Status = OfferStatus(st)
		out = append(out, o)
	}
	return out, rows.Err()
}
