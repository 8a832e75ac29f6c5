package authapi

import (
	"rememberme/cmd/identity"
)

func toUserResponse(u identity.Record) userResponse {
	return userResponse{
		Model:       u.Model,
		ID:          u.ID,
		Username:    ptrOrNil(u.Username),
		Email:       ptrOrNil(u.Email),
		DisplayName: ptrOrNil(u.DisplayName),
		CreatedAt:   u.CreatedAt,
	}
}

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
