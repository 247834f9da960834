// Package credential seals record credentials and checks callers against them.
package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "bloodlink/pkg/domain-errors"
)

// Guard seals credentials at creation and verifies them before any write to
// an existing record.
type Guard interface {
	Seal(plain string) (string, error)
	Verify(sealed, supplied string) error
}

// Bcrypt stores salted bcrypt hashes.
type Bcrypt struct {
	cost int
}

// NewBcrypt clamps cost into bcrypt's accepted range.
func NewBcrypt(cost int) *Bcrypt {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Bcrypt{cost: cost}
}

func (b *Bcrypt) Cost() int {
	return b.cost
}

func (b *Bcrypt) Seal(plain string) (string, error) {
	if plain == "" {
		return "", dErrors.New(dErrors.CodeInvalidPayload, "credential cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidPayload, "credential is too long")
		}
		return "", fmt.Errorf("could not seal credential: %w", err)
	}
	return string(hashed), nil
}

// Verify returns an Unauthorized error when supplied does not match sealed.
// A sealed value that is not a bcrypt hash is an internal fault.
func (b *Bcrypt) Verify(sealed, supplied string) error {
	err := bcrypt.CompareHashAndPassword([]byte(sealed), []byte(supplied))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return dErrors.New(dErrors.CodeUnauthorized, "Unauthorized, credential does not match, try again")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not verify credential")
	}
}

var _ Guard = (*Bcrypt)(nil)
