package ports

import "github.com/flowswap/lp-node/internal/core/domain"

// RepoManager aggregates the repositories the engine depends on behind one
// handle, constructed once in AppContext and passed down.
type RepoManager interface {
	Swap() domain.SwapRepository
	Close() error
}
