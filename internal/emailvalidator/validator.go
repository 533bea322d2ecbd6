// Package emailvalidator checks account email addresses before they are
// stored.
package emailvalidator

import (
	"context"
	"strings"

	"github.com/mcnijman/go-emailaddress"
)

// Status of a validated address
const (
	StatusValid    = "valid"
	StatusInvalid  = "invalid"
	StatusRisky    = "risky"
	StatusUnknown  = "unknown"
	StatusCatchAll = "catch_all"
)

// Validator checks one email address
type Validator interface {
	Validate(ctx context.Context, email string) (*Result, error)
}

// Result of an email validation
type Result struct {
	Email       string `json:"email"`
	Status      string `json:"status"`
	Deliverable bool   `json:"deliverable"`
	Disposable  bool   `json:"disposable"`
	Reason      string `json:"reason,omitempty"`
}

// ShouldAccept returns true unless the address is known to be unusable.
// Unknown and risky results are accepted; the mailbox may still work.
func (r *Result) ShouldAccept() bool {
	return r.Status != StatusInvalid && !r.Disposable
}

// disposableDomains are throwaway mail providers that never hold an account
// for long
var disposableDomains = map[string]bool{
	"mailinator.com": true, "guerrillamail.com": true, "10minutemail.com": true,
	"tempmail.com": true, "trashmail.com": true, "yopmail.com": true,
	"sharklasers.com": true, "getnada.com": true,
}

// Syntax validates the address format locally and normalizes it
type Syntax struct{}

// Validate parses email. Invalid syntax is reported in the result, not as
// an error.
func (Syntax) Validate(_ context.Context, email string) (*Result, error) {
	addr, err := emailaddress.Parse(strings.TrimSpace(email))
	if err != nil {
		return &Result{Email: email, Status: StatusInvalid, Reason: "invalid syntax"}, nil
	}

	normalized := addr.LocalPart + "@" + strings.ToLower(addr.Domain)
	res := &Result{Email: normalized, Status: StatusValid, Deliverable: true}
	if disposableDomains[strings.ToLower(addr.Domain)] {
		res.Disposable = true
		res.Reason = "disposable email"
	}
	return res, nil
}

// Chain runs the syntax check first and then each remote validator on the
// normalized address. The first rejecting result wins.
type Chain struct {
	remotes []Validator
}

// NewChain creates a Chain. Nil validators are skipped.
func NewChain(remotes ...Validator) *Chain {
	c := &Chain{}
	for _, v := range remotes {
		if v != nil {
			c.remotes = append(c.remotes, v)
		}
	}
	return c
}

// Validate implements Validator. Errors from remote validators are returned
// together with the syntax result so callers may fail open.
func (c *Chain) Validate(ctx context.Context, email string) (*Result, error) {
	res, _ := Syntax{}.Validate(ctx, email)
	if !res.ShouldAccept() {
		return res, nil
	}

	for _, v := range c.remotes {
		remote, err := v.Validate(ctx, res.Email)
		if err != nil {
			return res, err
		}
		if !remote.ShouldAccept() {
			return remote, nil
		}
	}
	return res, nil
}
