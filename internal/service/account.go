package service

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/mealbridge/services/dispatch/internal/auth"
	"example.com/mealbridge/services/dispatch/internal/geo"
	"example.com/mealbridge/services/dispatch/internal/model"
	"example.com/mealbridge/services/dispatch/internal/repository"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// RegisterRequest defines the request to register an account
type RegisterRequest struct {
	Name             string `json:"name" validate:"required"`
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=6"`
	Role             string `json:"role" validate:"required"`
	SecurityQuestion string `json:"security_question" validate:"required"`
	SecurityAnswer   string `json:"security_answer" validate:"required"`
}

// Session is an issued token together with the authenticated account
type Session struct {
	Token   string         `json:"token"`
	Account *model.Account `json:"account"`
}

// RankedAgent is an agent annotated with its distance from the querying
// donor, when an origin was supplied
type RankedAgent struct {
	Account    *model.Account `json:"account"`
	DistanceKm *float64       `json:"distance_km,omitempty"`
}

// AccountService implements registration, login, credential recovery and the
// agent directory
type AccountService struct {
	repo   repository.AccountRepository
	tokens *auth.Tokens
}

// NewAccountService creates a new account service
func NewAccountService(repo repository.AccountRepository, tokens *auth.Tokens) *AccountService {
	return &AccountService{repo: repo, tokens: tokens}
}

// Register creates an account and opens a session for it
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) (*Session, error) {
	if err := checkStruct(req); err != nil {
		return nil, err
	}

	role := model.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		return nil, NewValidationError("role must be donor or agent")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !emailPattern.MatchString(email) {
		return nil, NewValidationError("invalid email address")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, NewValidationError("name is required")
	}
	if len(req.Password) < 6 {
		return nil, NewValidationError("password must be at least 6 characters")
	}
	if strings.TrimSpace(req.SecurityQuestion) == "" || strings.TrimSpace(req.SecurityAnswer) == "" {
		return nil, NewValidationError("security question and answer are required")
	}

	passwordHash, err := auth.HashSecret(req.Password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}
	answerHash, err := auth.HashSecret(normalizeAnswer(req.SecurityAnswer))
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash security answer")
	}

	account := &model.Account{
		Base:             model.Base{UUID: uuid.New().String()},
		Name:             strings.TrimSpace(req.Name),
		Email:            email,
		PasswordHash:     passwordHash,
		Role:             role,
		SecurityQuestion: strings.TrimSpace(req.SecurityQuestion),
		SecurityAnswer:   answerHash,
	}

	account, err = s.repo.Create(ctx, account)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, errors.Wrap(err, "failed to create account")
	}

	token, err := s.tokens.IssueSession(account)
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue token")
	}

	log.Info().
		Str("account_id", account.UUID).
		Str("role", string(account.Role)).
		Msg("Account registered")

	return &Session{Token: token, Account: account}, nil
}

// Login verifies credentials and opens a session
func (s *AccountService) Login(ctx context.Context, email, password string) (*Session, error) {
	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "failed to load account")
	}

	if !auth.CheckSecret(password, account.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.IssueSession(account)
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue token")
	}

	return &Session{Token: token, Account: account}, nil
}

// CurrentAccount resolves the authenticated identity to its account record
func (s *AccountService) CurrentAccount(ctx context.Context, actor *auth.Identity) (*model.Account, error) {
	account, err := s.repo.GetByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to load account")
	}
	return account, nil
}

// UpdateLocation stores the account's base location for proximity queries
func (s *AccountService) UpdateLocation(ctx context.Context, actor *auth.Identity, lat, lng float64, label string) (*model.Account, error) {
	if !geo.ValidCoordinate(model.Coordinate{Lat: lat, Lng: lng}) {
		return nil, NewValidationError("coordinates are required")
	}

	account, err := s.repo.UpdateLocation(ctx, actor.ID, lat, lng, label)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to update location")
	}
	return account, nil
}

// UpdateProfile changes the display name
func (s *AccountService) UpdateProfile(ctx context.Context, actor *auth.Identity, name string) (*model.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("name is required")
	}
	account, err := s.repo.UpdateName(ctx, actor.ID, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to update profile")
	}
	return account, nil
}

// ChangePassword rotates the password after verifying the current one
func (s *AccountService) ChangePassword(ctx context.Context, actor *auth.Identity, current, next string) error {
	account, err := s.CurrentAccount(ctx, actor)
	if err != nil {
		return err
	}
	if !auth.CheckSecret(current, account.PasswordHash) {
		return ErrInvalidCredentials
	}
	if len(next) < 6 {
		return NewValidationError("password must be at least 6 characters")
	}

	hash, err := auth.HashSecret(next)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}
	if err := s.repo.UpdatePasswordHash(ctx, actor.ID, hash); err != nil {
		return errors.Wrap(err, "failed to update password")
	}

	log.Info().Str("account_id", actor.ID).Msg("Password changed")
	return nil
}

// SecurityQuestion returns the recovery question registered for an email
func (s *AccountService) SecurityQuestion(ctx context.Context, email string) (string, error) {
	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "failed to load account")
	}
	return account.SecurityQuestion, nil
}

// VerifySecurityAnswer checks the recovery answer and issues a short-lived
// reset token on success
func (s *AccountService) VerifySecurityAnswer(ctx context.Context, email, answer string) (string, error) {
	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "failed to load account")
	}

	if !auth.CheckSecret(normalizeAnswer(answer), account.SecurityAnswer) {
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.IssueReset(account.UUID)
	if err != nil {
		return "", errors.Wrap(err, "failed to issue reset token")
	}
	return token, nil
}

// ResetPassword sets a new password against a valid reset token
func (s *AccountService) ResetPassword(ctx context.Context, resetToken, next string) error {
	accountID, err := s.tokens.VerifyReset(resetToken)
	if err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 6 {
		return NewValidationError("password must be at least 6 characters")
	}

	hash, err := auth.HashSecret(next)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}
	if err := s.repo.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "failed to update password")
	}

	log.Info().Str("account_id", accountID).Msg("Password reset")
	return nil
}

// ListAgents returns the agent directory for donors, with the same proximity
// semantics as the open offer pool: agents without a stored location are
// excluded from filtered queries, results sort by ascending distance with
// ties broken by account id.
func (s *AccountService) ListAgents(ctx context.Context, actor *auth.Identity, origin *model.Coordinate, radiusKm *float64) ([]RankedAgent, error) {
	if actor.Role != model.RoleDonor {
		return nil, ErrForbidden
	}
	if radiusKm != nil && *radiusKm <= 0 {
		return nil, NewValidationError("radius must be positive")
	}
	if radiusKm != nil && origin == nil {
		return nil, NewValidationError("radius requires an origin")
	}

	agents, err := s.repo.FindAgents(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list agents")
	}

	ranked := make([]RankedAgent, 0, len(agents))
	for i := range agents {
		agent := agents[i]
		entry := RankedAgent{Account: agent}

		if origin != nil {
			loc := agent.Location()
			if loc == nil {
				continue
			}
			d, err := geo.DistanceKm(*origin, *loc)
			if err != nil {
				continue
			}
			if radiusKm != nil && d > *radiusKm {
				continue
			}
			rounded := geo.RoundKm(d)
			entry.DistanceKm = &rounded
		}

		ranked = append(ranked, entry)
	}

	if origin != nil {
		sort.SliceStable(ranked, func(i, j int) bool {
			di, dj := *ranked[i].DistanceKm, *ranked[j].DistanceKm
			if di != dj {
				return di < dj
			}
			return ranked[i].Account.UUID < ranked[j].Account.UUID
		})
	}

	return ranked, nil
}

// normalizeAnswer makes security answer comparison case and whitespace
// insensitive
func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
