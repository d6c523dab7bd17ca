package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/climbclub/ticketdesk/pkg/config"
	"github.com/climbclub/ticketdesk/pkg/discord"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

var signingMethod = jwt.SigningMethodHS256

func checkConfig(cfg config.OperatorConfig) error {
	switch {
	case cfg.JWTSecret == "":
		return pkgerrors.New(pkgerrors.CodeDependency, "operator jwt secret is not configured")
	case cfg.JWTIssuer == "":
		return pkgerrors.New(pkgerrors.CodeDependency, "operator jwt issuer is not configured")
	}
	return nil
}

// MintOperatorToken signs a token for the chat user operatorID, valid for
// cfg.TokenTTL from now.
func MintOperatorToken(cfg config.OperatorConfig, now time.Time, operatorID, name string) (string, error) {
	if err := checkConfig(cfg); err != nil {
		return "", err
	}
	if cfg.TokenTTL <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "operator token ttl must be positive")
	}
	operatorID = strings.TrimSpace(operatorID)
	if !discord.IsSnowflake(operatorID) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "operator id must be a chat user id")
	}

	claims := OperatorClaims{
		Name: strings.TrimSpace(name),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operatorID,
			Issuer:    cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sign operator token")
	}
	return signed, nil
}

// ParseOperatorToken verifies signature, issuer and expiry. Any rejection is
// CodeUnauthorized and keeps the jwt error in its chain.
func ParseOperatorToken(cfg config.OperatorConfig, raw string) (*OperatorClaims, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	claims := &OperatorClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.JWTIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid operator token")
	}
	if !discord.IsSnowflake(claims.OperatorID()) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator token has no valid subject")
	}
	return claims, nil
}
