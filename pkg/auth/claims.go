package auth

import "github.com/golang-jwt/jwt/v5"

// OperatorClaims identify the club member calling the operator API. Subject
// carries their chat user id.
type OperatorClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// OperatorID is the chat user id of the token holder.
func (c *OperatorClaims) OperatorID() string {
	return c.Subject
}
