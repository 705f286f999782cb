package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minhvudev/dealerdesk/internal/model"
	"github.com/minhvudev/dealerdesk/internal/repository"
	"github.com/minhvudev/dealerdesk/internal/service"
	"github.com/minhvudev/dealerdesk/pkg/destination"
)

// AuthHandler handles verification and session endpoints
type AuthHandler struct {
	otpService     *service.OTPService
	sessionService *service.SessionService
	accountRepo    *repository.AccountRepository
}

func NewAuthHandler(otpService *service.OTPService, sessionService *service.SessionService, accountRepo *repository.AccountRepository) *AuthHandler {
	return &AuthHandler{
		otpService:     otpService,
		sessionService: sessionService,
		accountRepo:    accountRepo,
	}
}

// requestMeta extracts attribution for the challenge row
func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// writeServiceError maps the verification core's coarse failure categories
// onto HTTP responses. Anything unexpected surfaces as a generic failure.
func writeServiceError(c *gin.Context, err error) {
	var throttled *service.ThrottledError
	if errors.As(err, &throttled) {
		c.JSON(http.StatusTooManyRequests, model.ErrorResponse{
			Error:      throttled.Error(),
			RetryAfter: throttled.RetryAfter,
		})
		return
	}

	var mismatch *service.CodeMismatchError
	if errors.As(err, &mismatch) {
		left := mismatch.AttemptsLeft
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:        mismatch.Error(),
			AttemptsLeft: &left,
		})
		return
	}

	switch {
	case errors.Is(err, destination.ErrInvalid),
		errors.Is(err, service.ErrInvalidOrExpired),
		errors.Is(err, service.ErrAttemptsExceeded):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrDispatchFailed):
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: service.ErrInternal.Error()})
	}
}

// RequestOTP godoc
// @Summary Request a verification code for login or password reset
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.RequestChallengeRequest true "Challenge request"
// @Success 200 {object} model.ChallengeSentResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Router /auth/otp/request [post]
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req model.RequestChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	resp, err := h.otpService.RequestChallenge(c.Request.Context(), req.Destination, req.Purpose, requestMeta(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// VerifyOTP godoc
// @Summary Verify a code; login purpose returns session tokens
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.VerifyChallengeRequest true "Verify request"
// @Success 200 {object} model.VerifyChallengeResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /auth/otp/verify [post]
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req model.VerifyChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	resp, err := h.otpService.VerifyChallenge(c.Request.Context(), req.Destination, req.Purpose, req.Code)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ResetPassword godoc
// @Summary Finalize a password reset with a verified code
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.FinalizeResetRequest true "Reset request"
// @Success 200 {object} model.SuccessResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /auth/password/reset [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req model.FinalizeResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := h.otpService.FinalizeReset(c.Request.Context(), req.Destination, req.Code, req.NewPassword); err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Password reset successfully"})
}

// Login godoc
// @Summary Login with email/phone and password (sends a sign-in code)
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.LoginRequest true "Login request"
// @Success 200 {object} model.ChallengeSentResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	resp, err := h.otpService.Login(c.Request.Context(), req.Destination, req.Password, requestMeta(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Refresh godoc
// @Summary Rotate a refresh token into a new session pair
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.RefreshRequest true "Refresh request"
// @Success 200 {object} model.SessionTokens
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req model.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	tokens, err := h.sessionService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSession) {
			c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: service.ErrInternal.Error()})
		return
	}

	c.JSON(http.StatusOK, tokens)
}

// Logout godoc
// @Summary Logout and revoke the current access token
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SuccessResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Token required"})
		return
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Invalid token format"})
		return
	}

	if err := h.sessionService.Logout(c.Request.Context(), parts[1]); err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Logged out successfully"})
}

// GetProfile godoc
// @Summary Get the current dealer account
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.AccountResponse
// @Router /auth/profile [get]
func (h *AuthHandler) GetProfile(c *gin.Context) {
	accountID := c.MustGet("account_id").(uuid.UUID)

	account, err := h.accountRepo.FindByID(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "account not found"})
		return
	}

	c.JSON(http.StatusOK, account.ToResponse())
}
