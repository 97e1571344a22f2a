// Package directory is the recipient directory: delivery-token and UTC
// offset lookups, plus the stable audience paging used by broadcast
// expansion.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
)

// ErrRecipientNotFound is returned for lookups of unknown recipients.
var ErrRecipientNotFound = errors.New("recipient not found")

// Cursor marks a position in the signup-recency ordering of the audience.
type Cursor struct {
	SignedUpAt time.Time
	ID         string
}

// Repository defines recipient directory access.
type Repository interface {
	// GetByID returns one recipient.
	GetByID(ctx context.Context, id string) (*domain.Recipient, error)

	// PageBySignup returns up to limit recipients ordered by signup
	// recency (newest first), starting strictly after the cursor when one
	// is given. An empty result means the audience is exhausted.
	PageBySignup(ctx context.Context, after *Cursor, limit int) ([]domain.Recipient, error)

	// EvictToken clears a recipient's delivery token. Used when the push
	// provider reports the token as invalid, so subsequent sends fail fast
	// as no_token instead of hitting the provider again.
	EvictToken(ctx context.Context, recipientID string) error
}
