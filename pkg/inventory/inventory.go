// Package inventory tracks reservations against wallet balances per asset,
// pure in-memory with writes mirrored into each swap's record.
package inventory

import (
	"fmt"
	"sync"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/pkg/chainerr"
)

// Inventory implements ports.Inventory.
type Inventory struct {
	mu sync.Mutex

	balances    map[domain.Asset]int64
	reservedBy  map[string][]domain.Reservation // swap_id -> reservations
	reservedSum map[domain.Asset]int64
}

// New returns an empty Inventory.
func New() *Inventory {
	return &Inventory{
		balances:    make(map[domain.Asset]int64),
		reservedBy:  make(map[string][]domain.Reservation),
		reservedSum: make(map[domain.Asset]int64),
	}
}

// Reserve atomically claims amount of asset for swapID. Fails if
// available - reserved < amount. It also refuses the reservation outright
// while the wallet's available balance has already dropped below the sum
// of existing reservations.
func (inv *Inventory) Reserve(asset domain.Asset, amount int64, swapID string) (domain.Reservation, error) {
	if amount <= 0 {
		return domain.Reservation{}, chainerr.New(chainerr.InvariantViolation, "inventory.Reserve", fmt.Errorf("amount must be positive, got %d", amount))
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	balance := inv.balances[asset]
	reserved := inv.reservedSum[asset]
	if balance < reserved {
		return domain.Reservation{}, chainerr.New(chainerr.PermanentChain, "inventory.Reserve",
			fmt.Errorf("%s available balance %d is below already-reserved %d, refusing new reservations", asset, balance, reserved))
	}
	available := balance - reserved
	if available < amount {
		return domain.Reservation{}, chainerr.New(chainerr.PermanentChain, "inventory.Reserve",
			fmt.Errorf("insufficient %s inventory: available %d, requested %d", asset, available, amount))
	}

	r := domain.Reservation{Asset: asset, Amount: amount, SwapID: swapID}
	inv.reservedBy[swapID] = append(inv.reservedBy[swapID], r)
	inv.reservedSum[asset] += amount
	return r, nil
}

// Release frees every reservation owned by swapID.
func (inv *Inventory) Release(swapID string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, r := range inv.reservedBy[swapID] {
		inv.reservedSum[r.Asset] -= r.Amount
	}
	delete(inv.reservedBy, swapID)
}

// Available returns the current unreserved balance for asset.
func (inv *Inventory) Available(asset domain.Asset) int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.balances[asset] - inv.reservedSum[asset]
}

// RefreshBalance updates the cached wallet balance for asset, as read from
// the matching chain client on a periodic refresh cadence.
func (inv *Inventory) RefreshBalance(asset domain.Asset, balance int64) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.balances[asset] = balance
}

// ReservedTotal reports the sum of outstanding reservations for asset.
func (inv *Inventory) ReservedTotal(asset domain.Asset) int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.reservedSum[asset]
}
