package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"example.com/mealbridge/services/dispatch/internal/db"
	"example.com/mealbridge/services/dispatch/internal/model"
)

// AccountRepository defines the interface for account persistence
type AccountRepository interface {
	Create(ctx context.Context, account *model.Account) (*model.Account, error)
	GetByID(ctx context.Context, id string) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	UpdateName(ctx context.Context, id, name string) (*model.Account, error)
	UpdateLocation(ctx context.Context, id string, lat, lng float64, label string) (*model.Account, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	FindAgents(ctx context.Context) ([]*model.Account, error)
}

// accountRepository implements AccountRepository
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// Create creates a new account
func (r *accountRepository) Create(ctx context.Context, account *model.Account) (*model.Account, error) {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return account, nil
}

// GetByID gets an account by ID
func (r *accountRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("uuid = ?", id).First(&account).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByEmail gets an account by its lowercased email
func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&account).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateName updates the display name
func (r *accountRepository) UpdateName(ctx context.Context, id, name string) (*model.Account, error) {
	if err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("uuid = ?", id).
		Update("name", name).Error; err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdateLocation updates the home location
func (r *accountRepository) UpdateLocation(ctx context.Context, id string, lat, lng float64, label string) (*model.Account, error) {
	if err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("uuid = ?", id).
		Updates(map[string]interface{}{
			"lat":            lat,
			"lng":            lng,
			"location_label": label,
		}).Error; err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdatePasswordHash replaces the stored credential hash
func (r *accountRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("uuid = ?", id).
		Update("password_hash", hash).Error
}

// FindAgents lists all pickup agent accounts, newest first
func (r *accountRepository) FindAgents(ctx context.Context) ([]*model.Account, error) {
	var agents []*model.Account
	err := r.db.WithContext(ctx).
		Where("role = ?", model.RoleAgent).
		Order("created_at DESC").
		Find(&agents).Error
	if err != nil {
		return nil, err
	}
	return agents, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
