package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/internal/core/domain"
)

type fakeSwapRepo struct {
	swaps map[string]*domain.Swap
}

func newFakeSwapRepo() *fakeSwapRepo {
	return &fakeSwapRepo{swaps: make(map[string]*domain.Swap)}
}

func (r *fakeSwapRepo) Add(swap *domain.Swap) error {
	if _, exists := r.swaps[swap.SwapID]; exists {
		return fmt.Errorf("already exists")
	}
	r.swaps[swap.SwapID] = swap
	return nil
}

func (r *fakeSwapRepo) Get(id string) (*domain.Swap, error) {
	s, ok := r.swaps[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (r *fakeSwapRepo) GetAll() ([]*domain.Swap, error) {
	out := make([]*domain.Swap, 0, len(r.swaps))
	for _, s := range r.swaps {
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeSwapRepo) GetByState(state domain.State) ([]*domain.Swap, error) {
	var out []*domain.Swap
	for _, s := range r.swaps {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSwapRepo) Update(swap *domain.Swap) error {
	r.swaps[swap.SwapID] = swap
	return nil
}

func (r *fakeSwapRepo) Archive(id string) error {
	s, ok := r.swaps[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !s.State.IsTerminal() {
		return fmt.Errorf("swap %s is not terminal", id)
	}
	delete(r.swaps, id)
	return nil
}

func (r *fakeSwapRepo) Close() error { return nil }

type fakeRepoManager struct {
	repo *fakeSwapRepo
}

func (m *fakeRepoManager) Swap() domain.SwapRepository { return m.repo }
func (m *fakeRepoManager) Close() error                { return nil }

func testServer(repo *fakeSwapRepo) *Server {
	gin.SetMode(gin.TestMode)
	return New(nil, &fakeRepoManager{repo: repo})
}

func TestHandleGetReturnsSwap(t *testing.T) {
	repo := newFakeSwapRepo()
	repo.swaps["fs_1"] = &domain.Swap{SwapID: "fs_1", State: domain.StateInit}
	s := testServer(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/flowswap/fs_1", nil)
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Swap
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "fs_1", got.SwapID)
}

func TestHandleGetUnknownSwapReturns404(t *testing.T) {
	s := testServer(newFakeSwapRepo())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/flowswap/fs_missing", nil)
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListFiltersByState(t *testing.T) {
	repo := newFakeSwapRepo()
	repo.swaps["fs_1"] = &domain.Swap{SwapID: "fs_1", State: domain.StateCompleted}
	repo.swaps["fs_2"] = &domain.Swap{SwapID: "fs_2", State: domain.StateInit}
	s := testServer(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/flowswap/list?state=completed", nil)
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Swaps []domain.Swap `json:"swaps"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Swaps, 1)
	require.Equal(t, "fs_1", body.Swaps[0].SwapID)
}

func TestHandleListRejectsBadLimit(t *testing.T) {
	s := testServer(newFakeSwapRepo())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/flowswap/list?limit=notanumber", nil)
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCleanupTerminalArchivesOldTerminalSwaps(t *testing.T) {
	repo := newFakeSwapRepo()
	repo.swaps["fs_old"] = &domain.Swap{SwapID: "fs_old", State: domain.StateCompleted, UpdatedAt: 1}
	repo.swaps["fs_active"] = &domain.Swap{SwapID: "fs_active", State: domain.StateInit, UpdatedAt: 1}
	s := testServer(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/cleanup-terminal", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Archived int `json:"archived"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Archived)

	_, err := repo.Get("fs_old")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.Get("fs_active")
	require.NoError(t, err)
}

func TestAdminEndpointRejectsNonLoopback(t *testing.T) {
	s := testServer(newFakeSwapRepo())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/cleanup-terminal", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}
