// Package token mints and verifies self-contained unsubscribe tokens.
//
// A token is the URL-safe base64 encoding of a small JSON payload carrying
// the recipient id and an expiry instant. The encoding is reversible and
// carries no MAC: anyone able to construct the payload can forge a token for
// an arbitrary recipient id. Expiry is the only revocation mechanism.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is the lifetime of tokens minted for email footers. Short-lived
// single-use flows can pass a smaller TTL to Mint.
const DefaultTTL = 30 * 24 * time.Hour

// ErrEmptyRecipient is returned by Mint when no recipient id is given.
var ErrEmptyRecipient = errors.New("recipient id is empty")

type payload struct {
	ID  string `json:"id"`
	Exp int64  `json:"exp"` // unix milliseconds
}

// Codec mints and verifies unsubscribe tokens.
type Codec struct {
	now func() time.Time
}

// NewCodec creates a codec using the wall clock.
func NewCodec() *Codec {
	return &Codec{now: time.Now}
}

// Mint encodes a token for recipientID that expires after ttl.
func (c *Codec) Mint(recipientID string, ttl time.Duration) (string, error) {
	if recipientID == "" {
		return "", ErrEmptyRecipient
	}
	data, err := json.Marshal(payload{
		ID:  recipientID,
		Exp: c.now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal token payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Result is the outcome of verifying a token.
type Result struct {
	RecipientID string
	Valid       bool
}

// Verify decodes a token. Malformed input never produces an error, only an
// invalid result with an empty recipient id. An expired token still reports
// the decoded id so callers can render a useful message, but Valid is false;
// callers must gate every action on Valid.
func (c *Codec) Verify(tok string) Result {
	data, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return Result{}
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		return Result{}
	}
	if !time.UnixMilli(p.Exp).After(c.now()) {
		return Result{RecipientID: p.ID}
	}
	return Result{RecipientID: p.ID, Valid: true}
}
