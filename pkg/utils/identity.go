package utils

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ResolveUserID picks the client identity: an explicit id wins, then the
// subject of an identity token, then a random id. The token is not
// verified; the signaling service is the party that authenticates it.
func ResolveUserID(explicit, token string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	if token == "" {
		return NewUserID(), nil
	}
	sub, err := TokenSubject(token)
	if err != nil {
		return "", err
	}
	return sub, nil
}

func TokenSubject(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse identity token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("identity token subject: %w", err)
	}
	if sub == "" {
		return "", fmt.Errorf("identity token has no subject")
	}
	return sub, nil
}
