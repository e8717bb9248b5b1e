package ledger

import (
	"context"

	"github.com/holiman/uint256"
)

// Snapshot is the full persisted ledger state.
type Snapshot struct {
	Accounts []Account
	Rewards  map[string][]InteractionReward
	Treasury uint256.Int
}

// Store persists ledger state. Every method is a single atomic write.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	SaveAccounts(ctx context.Context, accounts ...Account) error
	SaveReward(ctx context.Context, account Account, reward InteractionReward, treasury *uint256.Int) error
	SaveTreasury(ctx context.Context, treasury *uint256.Int) error
	Close() error
}
