package model

import (
	"time"
)

// Base model fields shared by all models
type Base struct {
	UUID      string    `json:"uuid" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role identifies which side of a pickup an account is on
type Role string

const (
	// RoleDonor represents an account that lists donations
	RoleDonor Role = "donor"
	// RoleAgent represents a pickup organization account
	RoleAgent Role = "agent"
)

// Valid reports whether the role is one of the two known variants
func (r Role) Valid() bool {
	return r == RoleDonor || r == RoleAgent
}

// Coordinate is a WGS84 point in degrees
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Account represents a registered donor or pickup agent
type Account struct {
	Base
	Name             string   `json:"name"`
	Email            string   `json:"email" gorm:"uniqueIndex"`
	PasswordHash     string   `json:"-" gorm:"column:password_hash"`
	Role             Role     `json:"role"`
	SecurityQuestion string   `json:"-"`
	SecurityAnswer   string   `json:"-" gorm:"column:security_answer_hash"`
	Lat              *float64 `json:"lat"`
	Lng              *float64 `json:"lng"`
	LocationLabel    string   `json:"location_label"`
}

// Location returns the account's home coordinate, or nil if unset
func (a *Account) Location() *Coordinate {
	if a.Lat == nil || a.Lng == nil {
		return nil
	}
	return &Coordinate{Lat: *a.Lat, Lng: *a.Lng}
}

// OfferStatus defines the lifecycle status of a donation offer
type OfferStatus string

const (
	// StatusPending means the offer is open for claiming
	StatusPending OfferStatus = "pending"
	// StatusAccepted means an agent has claimed the offer
	StatusAccepted OfferStatus = "accepted"
	// StatusEnRoute means the claiming agent is reporting positions
	StatusEnRoute OfferStatus = "enRoute"
	// StatusCollected means the agent has picked up the donation
	StatusCollected OfferStatus = "collected"
	// StatusCompleted means the pickup finished successfully
	StatusCompleted OfferStatus = "completed"
)

// StatusFromString converts a string to an OfferStatus
func StatusFromString(status string) (OfferStatus, bool) {
	switch OfferStatus(status) {
	case StatusPending, StatusAccepted, StatusEnRoute, StatusCollected, StatusCompleted:
		return OfferStatus(status), true
	}
	return "", false
}

// rank positions each status along the forward-only lifecycle
var statusRank = map[OfferStatus]int{
	StatusPending:   0,
	StatusAccepted:  1,
	StatusEnRoute:   2,
	StatusCollected: 3,
	StatusCompleted: 4,
}

// Before reports whether s comes strictly earlier in the lifecycle than other
func (s OfferStatus) Before(other OfferStatus) bool {
	return statusRank[s] < statusRank[other]
}

// Tracking reports whether the offer is in a state that carries a live agent position
func (s OfferStatus) Tracking() bool {
	return s == StatusAccepted || s == StatusEnRoute
}

// Offer represents a donation listing tracked through its pickup lifecycle.
//
// ClaimedBy is nil exactly while the offer is pending. AgentLat/AgentLng are
// set only while the status is accepted or enRoute; markCollected clears them.
// OwnerID and the pickup coordinates never change after creation.
type Offer struct {
	Base
	OwnerID     string      `json:"owner_id" gorm:"column:owner_id;type:uuid;index"`
	Owner       *Account    `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`
	Item        string      `json:"item"`
	Quantity    float64     `json:"quantity"`
	ExpiryHours float64     `json:"expiry_hours"`
	PickupLat   float64     `json:"pickup_lat"`
	PickupLng   float64     `json:"pickup_lng"`
	PickupLabel string      `json:"pickup_label"`
	Status      OfferStatus `json:"status" gorm:"index"`
	ClaimedBy   *string     `json:"claimed_by" gorm:"column:claimed_by;type:uuid;index"`
	Claimant    *Account    `json:"claimant,omitempty" gorm:"foreignKey:ClaimedBy"`
	AgentLat    *float64    `json:"agent_lat"`
	AgentLng    *float64    `json:"agent_lng"`
}

// PickupLocation returns the immutable pickup coordinate
func (o *Offer) PickupLocation() Coordinate {
	return Coordinate{Lat: o.PickupLat, Lng: o.PickupLng}
}

// AgentLocation returns the last reported agent position, or nil if none
func (o *Offer) AgentLocation() *Coordinate {
	if o.AgentLat == nil || o.AgentLng == nil {
		return nil
	}
	return &Coordinate{Lat: *o.AgentLat, Lng: *o.AgentLng}
}

// ExpiresAt returns the advisory expiry deadline derived from creation time
func (o *Offer) ExpiresAt() time.Time {
	return o.CreatedAt.Add(time.Duration(o.ExpiryHours * float64(time.Hour)))
}
