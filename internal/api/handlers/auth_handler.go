package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/mealbridge/services/dispatch/internal/service"
	"example.com/mealbridge/services/dispatch/internal/tracing"
)

// AuthHandler handles registration, login and credential recovery
type AuthHandler struct {
	accounts *service.AccountService
	tracer   tracing.Tracer
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts *service.AccountService, tracer tracing.Tracer) *AuthHandler {
	return &AuthHandler{accounts: accounts, tracer: tracer}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SecurityQuestionRequest looks up the recovery question for an email
type SecurityQuestionRequest struct {
	Email string `json:"email" binding:"required"`
}

// VerifyAnswerRequest verifies a recovery answer
type VerifyAnswerRequest struct {
	Email  string `json:"email" binding:"required"`
	Answer string `json:"answer" binding:"required"`
}

// ResetPasswordRequest sets a new password against a reset token
type ResetPasswordRequest struct {
	ResetToken  string `json:"reset_token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePasswordRequest rotates the password of the logged-in account
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// UpdateLocationRequest stores the account's base location
type UpdateLocationRequest struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
}

// UpdateProfileRequest changes profile fields
type UpdateProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

// HandleRegister registers a new account
func (h *AuthHandler) HandleRegister(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-register")
	defer h.tracer.EndTransaction(txn)

	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Invalid register request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.accounts.Register(c, &req)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// HandleLogin authenticates an account
func (h *AuthHandler) HandleLogin(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-login")
	defer h.tracer.EndTransaction(txn)

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.accounts.Login(c, req.Email, req.Password)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// HandleMe returns the authenticated account
func (h *AuthHandler) HandleMe(c *gin.Context) {
	account, err := h.accounts.CurrentAccount(c, identityFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// HandleUpdateLocation stores the caller's base location
func (h *AuthHandler) HandleUpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accounts.UpdateLocation(c, identityFrom(c), req.Lat, req.Lng, req.Label)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// HandleUpdateProfile changes profile fields
func (h *AuthHandler) HandleUpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accounts.UpdateProfile(c, identityFrom(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// HandleChangePassword rotates the caller's password
func (h *AuthHandler) HandleChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.accounts.ChangePassword(c, identityFrom(c), req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// HandleSecurityQuestion returns the recovery question for an email
func (h *AuthHandler) HandleSecurityQuestion(c *gin.Context) {
	var req SecurityQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	question, err := h.accounts.SecurityQuestion(c, req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"security_question": question})
}

// HandleVerifyAnswer checks a recovery answer and issues a reset token
func (h *AuthHandler) HandleVerifyAnswer(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-verify-security-answer")
	defer h.tracer.EndTransaction(txn)

	var req VerifyAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.accounts.VerifySecurityAnswer(c, req.Email, req.Answer)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset_token": token})
}

// HandleResetPassword sets a new password against a valid reset token
func (h *AuthHandler) HandleResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.accounts.ResetPassword(c, req.ResetToken, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset"})
}

// RegisterRoutes registers the handler's routes
func (h *AuthHandler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.POST("/auth/register", h.HandleRegister)
	public.POST("/auth/login", h.HandleLogin)
	public.POST("/auth/security-question", h.HandleSecurityQuestion)
	public.POST("/auth/verify-answer", h.HandleVerifyAnswer)
	public.POST("/auth/reset-password", h.HandleResetPassword)

	protected.GET("/auth/me", h.HandleMe)
	protected.PUT("/auth/location", h.HandleUpdateLocation)
	protected.PUT("/auth/profile", h.HandleUpdateProfile)
	protected.PUT("/auth/password", h.HandleChangePassword)
}
