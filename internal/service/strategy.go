package service

import (
	"context"
	"time"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// Verifier confirms ownership of the phone number given for an account
type Verifier interface {
	Verify(ctx context.Context, account *domain.Account, phone string) error
}

// Warmer performs one warm-up step for an account. progress is the value
// the account will hold once the step returns.
type Warmer interface {
	Step(ctx context.Context, account *domain.Account, progress int) error
}

// IdentityProvider changes the password at the upstream identity provider
type IdentityProvider interface {
	ChangePassword(ctx context.Context, account *domain.Account, oldPassword, newPassword string) error
}

// TrustedVerifier accepts every phone number without an out-of-band check.
// It keeps the state machine usable until a real OTP verifier is plugged in.
type TrustedVerifier struct{}

func (TrustedVerifier) Verify(context.Context, *domain.Account, string) error { return nil }

// DelayWarmer stands in for real engagement actions by waiting Delay per
// step
type DelayWarmer struct {
	Delay time.Duration
}

func (w DelayWarmer) Step(ctx context.Context, _ *domain.Account, _ int) error {
	if w.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(w.Delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LocalIdentity changes the stored password only and never contacts the
// identity provider
type LocalIdentity struct{}

func (LocalIdentity) ChangePassword(context.Context, *domain.Account, string, string) error {
	return nil
}
