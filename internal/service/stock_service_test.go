package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/repository"
	"github.com/GTDGit/gtd_backoffice/internal/secret"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

const testEncKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func testCodec(t *testing.T) *secret.Codec {
	t.Helper()
	codec, err := secret.NewCodec(testEncKey, "fp-test-key")
	require.NoError(t, err)
	return codec
}

// fakeStockStore is an in-memory StockStore with the same atomicity contract
// as the real repository: every method takes the store lock, so a claim is
// find-and-transition in one critical section.
type fakeStockStore struct {
	mu     sync.Mutex
	pools  map[int]*models.Pool
	items  map[int][]*models.StockItem
	order  []int
	nextID int
}

func newFakeStockStore() *fakeStockStore {
	return &fakeStockStore{
		pools: make(map[int]*models.Pool),
		items: make(map[int][]*models.StockItem),
	}
}

func (f *fakeStockStore) CreateWithItems(_ context.Context, pool *models.Pool, items []models.StockItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	pool.ID = f.nextID
	pool.Status = models.PoolActive
	pool.TotalCount = len(items)
	pool.AvailableCount = len(items)
	pool.CreatedAt = time.Now()
	f.pools[pool.ID] = pool
	f.order = append(f.order, pool.ID)
	for i := range items {
		f.nextID++
		it := items[i]
		it.ID = f.nextID
		it.PoolID = pool.ID
		it.Status = models.ItemAvailable
		f.items[pool.ID] = append(f.items[pool.ID], &it)
	}
	return nil
}

func (f *fakeStockStore) GetByID(_ context.Context, id int) (*models.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[id]
	if !ok {
		return nil, utils.ErrPoolNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStockStore) List(_ context.Context, _ *repository.PoolFilter) ([]models.Pool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Pool, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.pools[id])
	}
	return out, len(out), nil
}

func (f *fakeStockStore) GetItems(_ context.Context, poolID int) ([]models.StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.StockItem, 0, len(f.items[poolID]))
	for _, it := range f.items[poolID] {
		out = append(out, *it)
	}
	return out, nil
}

func (f *fakeStockStore) GetItem(_ context.Context, poolID, itemID int) (*models.StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items[poolID] {
		if it.ID == itemID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, utils.ErrItemNotFound
}

func (f *fakeStockStore) ClaimAvailable(_ context.Context, bucketID string, credType models.CredentialType, orderID, claimantID, claimantEmail string) (*models.StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		p := f.pools[id]
		if p.BucketID != bucketID || p.CredentialType != credType || p.Status != models.PoolActive {
			continue
		}
		for _, it := range f.items[id] {
			if it.Status != models.ItemAvailable {
				continue
			}
			now := time.Now()
			it.Status = models.ItemAssigned
			it.OrderID = &orderID
			it.ClaimedBy = &claimantID
			if claimantEmail != "" {
				it.ClaimedEmail = &claimantEmail
			}
			it.AssignedAt = &now
			p.AvailableCount--
			p.AssignedCount++
			p.Status = p.NextStatus()
			cp := *it
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStockStore) HasPools(_ context.Context, bucketID string, credType models.CredentialType) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exists, active := false, false
	for _, p := range f.pools {
		if p.BucketID == bucketID && p.CredentialType == credType {
			exists = true
			if p.Status == models.PoolActive {
				active = true
			}
		}
	}
	return exists, active, nil
}

func (f *fakeStockStore) TransitionItem(_ context.Context, poolID, itemID int, to models.ItemStatus, usedAt *time.Time) (*models.StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[poolID]
	if !ok {
		return nil, utils.ErrPoolNotFound
	}
	for _, it := range f.items[poolID] {
		if it.ID != itemID {
			continue
		}
		if !models.CanTransition(it.Status, to) {
			return nil, utils.ErrInvalidState
		}
		f.shift(p, it.Status, -1)
		it.Status = to
		it.UsedAt = usedAt
		f.shift(p, to, +1)
		p.Status = p.NextStatus()
		cp := *it
		return &cp, nil
	}
	return nil, utils.ErrItemNotFound
}

func (f *fakeStockStore) ReleaseItem(_ context.Context, poolID, itemID int) (*models.StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[poolID]
	if !ok {
		return nil, utils.ErrPoolNotFound
	}
	for _, it := range f.items[poolID] {
		if it.ID != itemID {
			continue
		}
		if it.Status != models.ItemAssigned && it.Status != models.ItemReserved {
			return nil, utils.ErrInvalidState
		}
		f.shift(p, it.Status, -1)
		it.Status = models.ItemAvailable
		it.OrderID, it.ClaimedBy, it.ClaimedEmail, it.AssignedAt = nil, nil, nil, nil
		f.shift(p, models.ItemAvailable, +1)
		p.Status = p.NextStatus()
		cp := *it
		return &cp, nil
	}
	return nil, utils.ErrItemNotFound
}

func (f *fakeStockStore) UpdateItemMeta(_ context.Context, poolID, itemID int, priceTag, typeTag, notes *string) (*models.StockItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items[poolID] {
		if it.ID == itemID {
			if priceTag != nil {
				it.PriceTag = priceTag
			}
			if typeTag != nil {
				it.TypeTag = typeTag
			}
			if notes != nil {
				it.Notes = notes
			}
			cp := *it
			return &cp, nil
		}
	}
	return nil, utils.ErrItemNotFound
}

func (f *fakeStockStore) DeleteItem(_ context.Context, poolID, itemID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.items[poolID]
	for i, it := range items {
		if it.ID == itemID {
			f.shift(f.pools[poolID], it.Status, -1)
			f.pools[poolID].TotalCount--
			f.items[poolID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return utils.ErrItemNotFound
}

func (f *fakeStockStore) DeletePool(_ context.Context, poolID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pools[poolID]; !ok {
		return utils.ErrPoolNotFound
	}
	delete(f.pools, poolID)
	delete(f.items, poolID)
	for i, id := range f.order {
		if id == poolID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStockStore) DeleteAllPools(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools = make(map[int]*models.Pool)
	f.items = make(map[int][]*models.StockItem)
	f.order = nil
	return nil
}

func (f *fakeStockStore) Recount(_ context.Context, poolID int) (*models.Pool, error) {
	return f.GetByID(context.Background(), poolID)
}

func (f *fakeStockStore) SetPoolStatus(_ context.Context, poolID int, status models.PoolStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[poolID]
	if !ok {
		return utils.ErrPoolNotFound
	}
	p.Status = status
	return nil
}

func (f *fakeStockStore) shift(p *models.Pool, s models.ItemStatus, delta int) {
	switch s {
	case models.ItemAvailable:
		p.AvailableCount += delta
	case models.ItemReserved:
		p.ReservedCount += delta
	case models.ItemAssigned:
		p.AssignedCount += delta
	case models.ItemUsed:
		p.UsedCount += delta
	case models.ItemExpired:
		p.ExpiredCount += delta
	case models.ItemFailed:
		p.FailedCount += delta
	}
}

func importPins(t *testing.T, svc *StockService, bucket string, pins ...string) *models.Pool {
	t.Helper()
	items := make([]ImportItem, 0, len(pins))
	for _, p := range pins {
		items = append(items, ImportItem{Payload: p})
	}
	pool, _, err := svc.ImportBatch(context.Background(), &ImportBatchRequest{
		Name:           "test pool",
		BucketID:       bucket,
		CredentialType: models.CredentialPIN,
		Items:          items,
	})
	require.NoError(t, err)
	return pool
}

func TestImportBatchEncryptsAndMasks(t *testing.T) {
	store := newFakeStockStore()
	svc := NewStockService(store, testCodec(t), nil)

	pool, report, err := svc.ImportBatch(context.Background(), &ImportBatchRequest{
		Name:           "XL 50k vouchers",
		BucketID:       "xl-50k",
		CredentialType: models.CredentialPIN,
		Items: []ImportItem{
			{Payload: "1234-5678-9012"},
			{Payload: "9999-8888-7777"},
			{Payload: "1234-5678-9012"}, // duplicate of row 0
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 1, report.DuplicateCount)
	assert.Equal(t, []int{2}, report.DuplicateRows)
	assert.Equal(t, 3, pool.AvailableCount)
	assert.Equal(t, models.PoolActive, pool.Status)

	items, err := svc.ReadMasked(context.Background(), pool.ID)
	require.NoError(t, err)
	for _, it := range items {
		assert.NotContains(t, it.PayloadEnc, "1234-5678-9012")
		assert.Equal(t, models.ItemAvailable, it.Status)
	}
	assert.Equal(t, "****9012", items[0].PayloadMask)
}

func TestImportBatchRejectsUnknownType(t *testing.T) {
	svc := NewStockService(newFakeStockStore(), testCodec(t), nil)
	_, _, err := svc.ImportBatch(context.Background(), &ImportBatchRequest{
		Name:           "bad",
		BucketID:       "b",
		CredentialType: "GIFT_CARD",
		Items:          []ImportItem{{Payload: "x"}},
	})
	assert.ErrorIs(t, err, utils.ErrInvalidState)
}

func TestClaimReturnsPlaintextOnce(t *testing.T) {
	store := newFakeStockStore()
	svc := NewStockService(store, testCodec(t), nil)
	pool := importPins(t, svc, "xl-50k", "1111-2222-3333")

	res, err := svc.Claim(context.Background(), &ClaimRequest{
		BucketID:       "xl-50k",
		CredentialType: models.CredentialPIN,
		OrderID:        "ORD-1",
		ClaimantID:     "pos-7",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1111-2222-3333", res.Secret)
	assert.Equal(t, models.ItemAssigned, res.Item.Status)
	assert.Equal(t, "****3333", res.Item.PayloadMask)
	require.NotNil(t, res.Item.OrderID)
	assert.Equal(t, "ORD-1", *res.Item.OrderID)

	after, err := svc.GetPool(context.Background(), pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.AvailableCount)
	assert.Equal(t, 1, after.AssignedCount)
	assert.Equal(t, models.PoolDepleted, after.Status)
	assert.True(t, after.CountersConsistent())
}

func TestClaimErrorTaxonomy(t *testing.T) {
	store := newFakeStockStore()
	svc := NewStockService(store, testCodec(t), nil)
	pool := importPins(t, svc, "xl-50k", "1111-2222-3333")

	ctx := context.Background()
	req := func(bucket, order string) *ClaimRequest {
		return &ClaimRequest{BucketID: bucket, CredentialType: models.CredentialPIN, OrderID: order, ClaimantID: "pos-1"}
	}

	// Unknown bucket
	_, err := svc.Claim(ctx, req("no-such-bucket", "O1"), nil)
	assert.ErrorIs(t, err, utils.ErrPoolNotFound)

	// Pool exists but operator disabled it
	require.NoError(t, svc.SetPoolStatus(ctx, pool.ID, models.PoolInactive))
	_, err = svc.Claim(ctx, req("xl-50k", "O2"), nil)
	assert.ErrorIs(t, err, utils.ErrInvalidState)

	// Re-enable, drain, then claim again
	require.NoError(t, svc.SetPoolStatus(ctx, pool.ID, models.PoolActive))
	_, err = svc.Claim(ctx, req("xl-50k", "O3"), nil)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, req("xl-50k", "O4"), nil)
	assert.ErrorIs(t, err, utils.ErrOutOfStock)
}

func TestConcurrentClaimsNeverDoubleIssue(t *testing.T) {
	store := newFakeStockStore()
	svc := NewStockService(store, testCodec(t), nil)

	const stock = 20
	const claimers = 50
	pins := make([]string, stock)
	for i := range pins {
		pins[i] = fmt.Sprintf("PIN-%04d-%04d", i, i)
	}
	pool := importPins(t, svc, "tri-25k", pins...)

	var wg sync.WaitGroup
	secrets := make(chan string, claimers)
	misses := make(chan error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := svc.Claim(context.Background(), &ClaimRequest{
				BucketID:       "tri-25k",
				CredentialType: models.CredentialPIN,
				OrderID:        fmt.Sprintf("ORD-%d", n),
				ClaimantID:     "pos-1",
			}, nil)
			if err != nil {
				misses <- err
				return
			}
			secrets <- res.Secret
		}(i)
	}
	wg.Wait()
	close(secrets)
	close(misses)

	seen := make(map[string]bool)
	for s := range secrets {
		assert.False(t, seen[s], "secret %q issued twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, stock)

	missed := 0
	for err := range misses {
		assert.ErrorIs(t, err, utils.ErrOutOfStock)
		missed++
	}
	assert.Equal(t, claimers-stock, missed)

	after, err := svc.GetPool(context.Background(), pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.AvailableCount)
	assert.Equal(t, stock, after.AssignedCount)
	assert.True(t, after.CountersConsistent())
	assert.Equal(t, models.PoolDepleted, after.Status)
}

func TestThreePinLifecycle(t *testing.T) {
	store := newFakeStockStore()
	svc := NewStockService(store, testCodec(t), nil)
	pool := importPins(t, svc, "axis-10k", "AAAA-1111", "BBBB-2222", "CCCC-3333")

	ctx := context.Background()
	var claimed []*models.StockItem
	for i := 0; i < 3; i++ {
		res, err := svc.Claim(ctx, &ClaimRequest{
			BucketID:       "axis-10k",
			CredentialType: models.CredentialPIN,
			OrderID:        fmt.Sprintf("ORD-%d", i),
			ClaimantID:     "pos-9",
		}, nil)
		require.NoError(t, err)
		claimed = append(claimed, res.Item)
	}

	// First delivered, second turned out bad, third order was cancelled.
	_, err := svc.MarkUsed(ctx, pool.ID, claimed[0].ID)
	require.NoError(t, err)
	_, err = svc.MarkFailed(ctx, pool.ID, claimed[1].ID)
	require.NoError(t, err)
	released, err := svc.Release(ctx, pool.ID, claimed[2].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemAvailable, released.Status)
	assert.Nil(t, released.OrderID)

	after, err := svc.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.AvailableCount)
	assert.Equal(t, 1, after.UsedCount)
	assert.Equal(t, 1, after.FailedCount)
	assert.Equal(t, 0, after.AssignedCount)
	assert.True(t, after.CountersConsistent())
	assert.Equal(t, models.PoolActive, after.Status)

	// A used item cannot come back.
	_, err = svc.Release(ctx, pool.ID, claimed[0].ID)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
	_, err = svc.MarkUsed(ctx, pool.ID, claimed[1].ID)
	assert.ErrorIs(t, err, utils.ErrInvalidState)
}

func TestReadDecryptedStaysMasked(t *testing.T) {
	store := newFakeStockStore()
	svc := NewStockService(store, testCodec(t), nil)
	pool := importPins(t, svc, "xl-100k", "SECRET-PIN-0001")

	views, err := svc.ReadDecrypted(context.Background(), pool.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Verified)
	assert.Equal(t, "****0001", views[0].PayloadMask)
}

func TestReadDecryptedFlagsRotatedKey(t *testing.T) {
	store := newFakeStockStore()
	svc := NewStockService(store, testCodec(t), nil)
	pool := importPins(t, svc, "xl-100k", "SECRET-PIN-0001")

	// Re-read with a codec built from a different key, as after an
	// unmigrated rotation.
	otherKey := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	rotated, err := secret.NewCodec(otherKey, "fp-test-key")
	require.NoError(t, err)
	svc2 := NewStockService(store, rotated, nil)

	views, err := svc2.ReadDecrypted(context.Background(), pool.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.False(t, views[0].Verified)
	assert.Equal(t, models.ItemFailed, views[0].Status)

	after, err := svc2.GetPool(context.Background(), pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.FailedCount)
	assert.True(t, after.CountersConsistent())
}
