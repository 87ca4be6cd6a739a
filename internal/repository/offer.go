package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/mealbridge/services/dispatch/internal/db"
	"example.com/mealbridge/services/dispatch/internal/model"
)

// OfferRepository defines the interface for offer persistence.
//
// Every lifecycle mutation is a single conditional write: the WHERE clause
// carries the expected prior status, and the boolean result reports whether
// the row matched. Callers never issue a separate read-then-write pair for a
// transition, which is what makes concurrent claims safe.
type OfferRepository interface {
	Create(ctx context.Context, offer *model.Offer) (*model.Offer, error)
	GetByID(ctx context.Context, id string) (*model.Offer, error)
	FindPending(ctx context.Context) ([]*model.Offer, error)
	FindByOwner(ctx context.Context, ownerID string, status *model.OfferStatus) ([]*model.Offer, error)
	FindByClaimant(ctx context.Context, agentID string, status *model.OfferStatus) ([]*model.Offer, error)

	// Claim sets status=accepted and claimed_by=agentID iff status is still
	// pending. At most one concurrent claim can match.
	Claim(ctx context.Context, id, agentID string) (bool, error)

	// ReportPosition writes the agent position and forces enRoute iff the
	// offer is claimed by agentID and still in a tracking status.
	ReportPosition(ctx context.Context, id, agentID string, lat, lng float64) (bool, error)

	// MarkCollected advances to collected and clears the agent position.
	MarkCollected(ctx context.Context, id, agentID string) (bool, error)

	// MarkCompleted advances collected to completed.
	MarkCompleted(ctx context.Context, id, agentID string) (bool, error)

	// DeletePending removes the offer iff it is still pending and owned by
	// ownerID. Withdrawal is a removal, not a status.
	DeletePending(ctx context.Context, id, ownerID string) (bool, error)

	// DeleteExpiredPending purges pending offers whose advisory expiry has
	// passed and returns the ids of the purged rows so the caller can clean
	// up derived state. Used only by the housekeeping sweeper; the condition
	// on status=pending guarantees it can never touch a claimed offer.
	DeleteExpiredPending(ctx context.Context, now time.Time) ([]string, error)
}

// offerRepository implements OfferRepository
type offerRepository struct {
	db *gorm.DB
}

// NewOfferRepository creates a new offer repository
func NewOfferRepository(db *gorm.DB) OfferRepository {
	return &offerRepository{db: db}
}

// Create creates a new offer
func (r *offerRepository) Create(ctx context.Context, offer *model.Offer) (*model.Offer, error) {
	if err := r.db.WithContext(ctx).Omit("Owner", "Claimant").Create(offer).Error; err != nil {
		return nil, err
	}
	return offer, nil
}

// GetByID gets an offer by ID
func (r *offerRepository) GetByID(ctx context.Context, id string) (*model.Offer, error) {
	var offer model.Offer
	err := r.db.WithContext(ctx).
		Preload("Owner").
		Preload("Claimant").
		Where("uuid = ?", id).
		First(&offer).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &offer, nil
}

// FindPending finds all open offers, newest first
func (r *offerRepository) FindPending(ctx context.Context) ([]*model.Offer, error) {
	var offers []*model.Offer
	err := r.db.WithContext(ctx).
		Preload("Owner").
		Where("status = ?", model.StatusPending).
		Order("created_at DESC").
		Find(&offers).Error
	if err != nil {
		return nil, err
	}
	return offers, nil
}

// FindByOwner finds a donor's own offers, optionally filtered by status
func (r *offerRepository) FindByOwner(ctx context.Context, ownerID string, status *model.OfferStatus) ([]*model.Offer, error) {
	query := r.db.WithContext(ctx).
		Preload("Claimant").
		Where("owner_id = ?", ownerID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var offers []*model.Offer
	if err := query.Order("created_at DESC").Find(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

// FindByClaimant finds an agent's claimed offers, optionally filtered by status
func (r *offerRepository) FindByClaimant(ctx context.Context, agentID string, status *model.OfferStatus) ([]*model.Offer, error) {
	query := r.db.WithContext(ctx).
		Preload("Owner").
		Where("claimed_by = ?", agentID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var offers []*model.Offer
	if err := query.Order("created_at DESC").Find(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

// Claim performs the conditional pending->accepted transition
func (r *offerRepository) Claim(ctx context.Context, id, agentID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Offer{}).
		Where("uuid = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]interface{}{
			"status":     model.StatusAccepted,
			"claimed_by": agentID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReportPosition writes the agent position while the offer is being tracked
func (r *offerRepository) ReportPosition(ctx context.Context, id, agentID string, lat, lng float64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Offer{}).
		Where("uuid = ? AND claimed_by = ? AND status IN (?)",
			id, agentID, []model.OfferStatus{model.StatusAccepted, model.StatusEnRoute}).
		Updates(map[string]interface{}{
			"status":    model.StatusEnRoute,
			"agent_lat": lat,
			"agent_lng": lng,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkCollected ends the tracking session and advances to collected
func (r *offerRepository) MarkCollected(ctx context.Context, id, agentID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Offer{}).
		Where("uuid = ? AND claimed_by = ? AND status IN (?)",
			id, agentID, []model.OfferStatus{model.StatusAccepted, model.StatusEnRoute}).
		Updates(map[string]interface{}{
			"status":    model.StatusCollected,
			"agent_lat": nil,
			"agent_lng": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkCompleted advances collected to completed
func (r *offerRepository) MarkCompleted(ctx context.Context, id, agentID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Offer{}).
		Where("uuid = ? AND claimed_by = ? AND status = ?", id, agentID, model.StatusCollected).
		Update("status", model.StatusCompleted)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeletePending removes a pending offer owned by ownerID
func (r *offerRepository) DeletePending(ctx context.Context, id, ownerID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("uuid = ? AND owner_id = ? AND status = ?", id, ownerID, model.StatusPending).
		Delete(&model.Offer{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeleteExpiredPending purges pending offers past their advisory expiry,
// returning their ids
func (r *offerRepository) DeleteExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	var purged []model.Offer
	result := r.db.WithContext(ctx).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "uuid"}}}).
		Where("status = ? AND created_at + (expiry_hours * interval '1 hour') < ?",
			model.StatusPending, now).
		Delete(&purged)
	if result.Error != nil {
		return nil, result.Error
	}

	ids := make([]string, 0, len(purged))
	for i := range purged {
		ids = append(ids, purged[i].UUID)
	}
	return ids, nil
}
