package authapi

import "time"

type loginRequest struct {
	Login      string `json:"login"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type userResponse struct {
	Model       string    `json:"model"`
	ID          string    `json:"id"`
	Username    *string   `json:"username"`
	Email       *string   `json:"email"`
	DisplayName *string   `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type loginResponse struct {
	User             userResponse `json:"user"`
	SessionExpiresAt time.Time    `json:"session_expires_at"`
	CSRFToken        string       `json:"csrf_token"`
	Remembered       bool         `json:"remembered"`
}

type meResponse struct {
	User userResponse `json:"user"`
	// Via is "session" or "remember_me".
	Via string `json:"via"`
}

type logoutResponse struct {
	Revoked int64 `json:"revoked"`
}
