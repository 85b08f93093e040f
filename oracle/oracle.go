// Package oracle handles the signed decision documents the external
// weather-analysis collaborator submits. A document is a compact JWT
// whose claims carry the collaborator's verdict for one policy; the
// core verifies the signature and the oracle identity, then forwards
// only the binary decision to the insurance engine.
package oracle

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cropshield/fault"
)

var (
	// ErrBadToken signals a document that could not be parsed or whose
	// signature did not verify.
	ErrBadToken = fault.New(fault.Validation, "oracle: invalid decision document")
	// ErrWrongOracle signals a document signed for a different oracle
	// address than the one configured.
	ErrWrongOracle = fault.New(fault.Authorization, "oracle: document subject is not the configured oracle")
)

// Decision is the collaborator's verdict for one policy. Only Approved
// flows onward to settlement; the remaining fields are carried for the
// audit surface.
type Decision struct {
	PolicyID         int64
	Approved         bool
	SettlementAmount int64
	Confidence       int64
	Reasoning        string
}

// Verifier checks decision documents against the shared secret and the
// configured oracle address.
type Verifier struct {
	secret []byte
	oracle string
}

func NewVerifier(secret, oracle string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		oracle: oracle,
	}
}

// Verify parses and validates one decision document.
func (v *Verifier) Verify(tokenString string) (Decision, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Decision{}, ErrBadToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Decision{}, ErrBadToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Decision{}, ErrBadToken
	}
	if sub != v.oracle {
		return Decision{}, ErrWrongOracle
	}

	policyID, ok := claimInt(claims, "policy_id")
	if !ok || policyID <= 0 {
		return Decision{}, ErrBadToken
	}
	decision, ok := claimInt(claims, "decision")
	if !ok || (decision != 0 && decision != 1) {
		return Decision{}, ErrBadToken
	}
	amount, _ := claimInt(claims, "settlement_amount")
	confidence, _ := claimInt(claims, "confidence")
	reasoning, _ := claims["reasoning"].(string)

	return Decision{
		PolicyID:         policyID,
		Approved:         decision == 1,
		SettlementAmount: amount,
		Confidence:       confidence,
		Reasoning:        reasoning,
	}, nil
}

// Sign issues a decision document. The collaborator side uses this;
// the core only needs it in tests.
func Sign(secret, oracleAddr string, d Decision, ttl time.Duration) (string, error) {
	decision := int64(0)
	if d.Approved {
		decision = 1
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":               oracleAddr,
		"policy_id":         d.PolicyID,
		"decision":          decision,
		"settlement_amount": d.SettlementAmount,
		"confidence":        d.Confidence,
		"reasoning":         d.Reasoning,
		"iat":               now.Unix(),
		"exp":               now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("oracle: sign document: %w", err)
	}
	return signed, nil
}

// claimInt reads a numeric claim. The JSON round trip turns every
// number into float64, so that is the shape looked for first.
func claimInt(claims jwt.MapClaims, key string) (int64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
