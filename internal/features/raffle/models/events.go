package models

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type EventType string

const (
	EventRaffleCreated        EventType = "raffle_created"
	EventTicketPurchased      EventType = "ticket_purchased"
	EventRaffleClosed         EventType = "raffle_closed"
	EventDrawRequested        EventType = "draw_requested"
	EventRaffleDrawn          EventType = "raffle_drawn"
	EventRaffleReleased       EventType = "raffle_released"
	EventRaffleRefunded       EventType = "raffle_refunded"
	EventTicketRefunded       EventType = "ticket_refunded"
	EventAssetReclaimed       EventType = "asset_reclaimed"
	EventCreateEnabledToggled EventType = "create_enabled_toggled"
)

// Event is an observable record of a state change. Payload values are
// strings so the event can be written as a flat redis stream entry.
type Event struct {
	ID       string            `json:"id"`
	Type     EventType         `json:"type"`
	RaffleID uint64            `json:"raffle_id,omitempty"`
	At       time.Time         `json:"at"`
	Data     map[string]string `json:"data,omitempty"`
}

func newEvent(t EventType, raffleID uint64, data map[string]string) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		RaffleID: raffleID,
		At:       time.Now().UTC(),
		Data:     data,
	}
}

// Values flattens the event for XADD.
func (e Event) Values() map[string]interface{} {
	v := make(map[string]interface{}, len(e.Data)+4)
	for k, val := range e.Data {
		v[k] = val
	}
	v["event_id"] = e.ID
	v["type"] = string(e.Type)
	v["raffle_id"] = strconv.FormatUint(e.RaffleID, 10)
	v["at"] = e.At.Format(time.RFC3339Nano)
	return v
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func RaffleCreatedEvent(r *Raffle) Event {
	return newEvent(EventRaffleCreated, r.ID, map[string]string{
		"creator":      r.Creator.Hex(),
		"asset":        r.Asset.Hex(),
		"asset_id":     r.AssetID.String(),
		"standard":     string(r.Standard),
		"ticket_price": r.TicketPrice.String(),
		"expires_at":   strconv.FormatInt(r.ExpiresAt, 10),
	})
}

// TicketPurchasedEvent carries (raffle id, batch index, buyer, start ticket, quantity).
func TicketPurchasedEvent(raffleID uint64, b TicketBatch) Event {
	return newEvent(EventTicketPurchased, raffleID, map[string]string{
		"batch_index":  u32(b.Index),
		"buyer":        b.Owner.Hex(),
		"start_ticket": u32(b.StartTicket),
		"quantity":     u32(b.Size()),
	})
}

func RaffleClosedEvent(raffleID uint64, sold uint32) Event {
	return newEvent(EventRaffleClosed, raffleID, map[string]string{"tickets_sold": u32(sold)})
}

func DrawRequestedEvent(raffleID, requestID uint64) Event {
	return newEvent(EventDrawRequested, raffleID, map[string]string{"request_id": u64(requestID)})
}

func RaffleDrawnEvent(raffleID, requestID uint64, winningTicket uint32) Event {
	return newEvent(EventRaffleDrawn, raffleID, map[string]string{
		"request_id":     u64(requestID),
		"winning_ticket": u32(winningTicket),
	})
}

func RaffleReleasedEvent(s *Settlement) Event {
	return newEvent(EventRaffleReleased, s.RaffleID, map[string]string{
		"winner":           s.Winner.Hex(),
		"winning_ticket":   u32(s.WinningTicket),
		"raised":           s.Raised.String(),
		"royalty_receiver": s.RoyaltyReceiver.Hex(),
		"royalty_amount":   s.RoyaltyAmount.String(),
		"platform_fee":     s.PlatformFee.String(),
		"creator_payout":   s.CreatorPayout.String(),
	})
}

func RaffleRefundedEvent(raffleID uint64) Event {
	return newEvent(EventRaffleRefunded, raffleID, nil)
}

func TicketRefundedEvent(raffleID uint64, buyer common.Address, amount *big.Int) Event {
	return newEvent(EventTicketRefunded, raffleID, map[string]string{
		"buyer":  buyer.Hex(),
		"amount": amount.String(),
	})
}

func AssetReclaimedEvent(raffleID uint64, creator common.Address) Event {
	return newEvent(EventAssetReclaimed, raffleID, map[string]string{"creator": creator.Hex()})
}

func CreateEnabledToggledEvent(by common.Address, enabled bool) Event {
	return newEvent(EventCreateEnabledToggled, 0, map[string]string{
		"by":      by.Hex(),
		"enabled": strconv.FormatBool(enabled),
	})
}
