package ports

import "github.com/flowswap/lp-node/internal/core/domain"

// Inventory tracks reservations against wallet balances per asset
//. Implemented by pkg/inventory.
type Inventory interface {
	// Reserve atomically claims amount of asset for swapID. Fails if
	// available - reserved < amount.
	Reserve(asset domain.Asset, amount int64, swapID string) (domain.Reservation, error)

	// Release frees every reservation owned by swapID.
	Release(swapID string)

	// Available returns the current unreserved balance for asset.
	Available(asset domain.Asset) int64

	// RefreshBalance updates the cached wallet balance for asset, as read
	// from the matching chain client.
	RefreshBalance(asset domain.Asset, balance int64)
}
