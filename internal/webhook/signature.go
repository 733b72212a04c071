package webhook

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const SignatureHeader = "Upstash-Signature"

var ErrInvalidSignature = errors.New("invalid broker signature")

type signatureClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verifier checks the HS256 token QStash attaches to every delivery. Both
// signing keys are tried so deliveries keep verifying across a key rotation.
type Verifier struct {
	CurrentKey string
	NextKey    string
	Leeway     time.Duration
}

func (v *Verifier) Verify(token string, body []byte, url string) error {
	if token == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}
	var lastErr error
	for _, key := range []string{v.CurrentKey, v.NextKey} {
		if key == "" {
			continue
		}
		err := v.verifyWithKey(key, token, body, url)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no signing keys configured")
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (v *Verifier) verifyWithKey(key, token string, body []byte, url string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("Upstash"),
		jwt.WithLeeway(v.Leeway),
	}
	if url != "" {
		opts = append(opts, jwt.WithSubject(url))
	}

	claims := &signatureClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...); err != nil {
		return err
	}

	sum := sha256.Sum256(body)
	if strings.TrimRight(claims.Body, "=") != base64.RawURLEncoding.EncodeToString(sum[:]) {
		return errors.New("body hash mismatch")
	}
	return nil
}
