package ledger

import (
	"context"

	"saldo/backend/internal/domain"
)

//go:generate mockgen -source=identity.go -destination=identity_mock.go -package=ledger

// IdentityResolver maps a caller id to the identity stamped on journal
// entries and snapshots.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, actorID string) (domain.Identity, error)
}
