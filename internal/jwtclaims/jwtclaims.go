// Package jwtclaims decodes the unsigned payload of the assistant's
// OAuth id_token to recover the account id and workspace/org
// identifiers (spec §4.2 C2). The supervisor never verifies the
// signature: these are the assistant's own tokens, read back from its
// own credential files, not a trust boundary we are enforcing.
package jwtclaims

import (
	"github.com/golang-jwt/jwt/v5"
)

// AuthClaim mirrors the `https://api.openai.com/auth` custom claim
// embedded in the id_token.
type AuthClaim struct {
	ChatGPTAccountID string         `json:"chatgpt_account_id"`
	Organizations    []Organization `json:"organizations"`
}

// Organization is one entry of the auth claim's organizations list.
type Organization struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	IsDefault bool   `json:"is_default"`
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Auth AuthClaim `json:"https://api.openai.com/auth"`
}

// Decode parses the unsigned payload of idToken and returns the
// embedded auth claim. It never validates the signature or
// expiration — callers that need liveness use the parsed `exp`
// separately via Expiry.
func Decode(idToken string) (AuthClaim, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims idTokenClaims
	if _, _, err := parser.ParseUnverified(idToken, &claims); err != nil {
		return AuthClaim{}, err
	}
	return claims.Auth, nil
}

// Expiry returns the token's `exp` claim in unix seconds, or 0 if
// absent/unparseable.
func Expiry(idToken string) int64 {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(idToken, &claims); err != nil {
		return 0
	}
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Unix()
}

// ResolveWorkspace picks the workspace/org to surface, per spec §4.4:
// prefer the org whose id equals accountID (the tokens.account_id),
// else the org marked is_default, else the first.
func ResolveWorkspace(claim AuthClaim, accountID string) (workspaceID, workspaceName string) {
	if len(claim.Organizations) == 0 {
		return "", ""
	}

	for _, org := range claim.Organizations {
		if accountID != "" && org.ID == accountID {
			return org.ID, org.Title
		}
	}
	for _, org := range claim.Organizations {
		if org.IsDefault {
			return org.ID, org.Title
		}
	}
	first := claim.Organizations[0]
	return first.ID, first.Title
}
