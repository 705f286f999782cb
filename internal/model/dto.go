package model

// ========== Challenge DTOs ==========

type RequestChallengeRequest struct {
	Destination string           `json:"destination" binding:"required,max=255"`
	Purpose     ChallengePurpose `json:"purpose" binding:"required,oneof=login password_reset"`
}

// ChallengeSentResponse is returned for every issuance request, real or
// not. The shape never reveals whether the destination has an account
type ChallengeSentResponse struct {
	Message     string `json:"message"`
	Destination string `json:"destination"` // masked, e.g. ab***@x.com
	ExpiresIn   int    `json:"expires_in"`  // seconds until the code expires
}

type VerifyChallengeRequest struct {
	Destination string           `json:"destination" binding:"required,max=255"`
	Purpose     ChallengePurpose `json:"purpose" binding:"required,oneof=login password_reset"`
	Code        string           `json:"code" binding:"required,len=6,numeric"`
}

type VerifyChallengeResponse struct {
	Message      string `json:"message"`
	AccessToken  string `json:"access_token,omitempty"`  // login purpose only
	RefreshToken string `json:"refresh_token,omitempty"` // login purpose only
}

type FinalizeResetRequest struct {
	Destination string `json:"destination" binding:"required,max=255"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=72"`
}

// ========== Auth DTOs ==========

type LoginRequest struct {
	Destination string `json:"destination" binding:"required,max=255"`
	Password    string `json:"password" binding:"required,min=8,max=72"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// SessionTokens carries the bearer token pair minted after a successful
// login-purpose verification
type SessionTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ========== Common ==========

type ErrorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	RetryAfter   int    `json:"retry_after,omitempty"`   // seconds, throttled issuance only
	AttemptsLeft *int   `json:"attempts_left,omitempty"` // wrong code only
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
