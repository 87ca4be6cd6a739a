package model

import "time"

// EventType defines the type of offer lifecycle event published to the bus
type EventType string

const (
	// OfferCreatedEvent is published when a donor lists a new offer
	OfferCreatedEvent EventType = "offer-created"
	// OfferClaimedEvent is published when an agent wins the claim
	OfferClaimedEvent EventType = "offer-claimed"
	// OfferEnRouteEvent is published on the first position report
	OfferEnRouteEvent EventType = "offer-en-route"
	// OfferCollectedEvent is published when the agent picks up the donation
	OfferCollectedEvent EventType = "offer-collected"
	// OfferCompletedEvent is published when the pickup finishes
	OfferCompletedEvent EventType = "offer-completed"
	// OfferWithdrawnEvent is published when the owner withdraws a pending offer
	OfferWithdrawnEvent EventType = "offer-withdrawn"
)

// OfferEvent is the message envelope for offer lifecycle events
type OfferEvent struct {
	EventType EventType `json:"event_type"`
	Offer     Offer     `json:"offer"`
	ActorID   string    `json:"actor_id"`
	Time      time.Time `json:"time"`
}
