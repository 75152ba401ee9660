package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// fakeLedgerStore keeps accounts and their logs in memory. Mutate holds the
// store lock for the whole callback, matching the row-lock contract of the
// real repository.
type fakeLedgerStore struct {
	mu       sync.Mutex
	accounts map[string]*models.LedgerAccount
	logs     map[int][]models.LedgerTransaction
	nextID   int
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{
		accounts: make(map[string]*models.LedgerAccount),
		logs:     make(map[int][]models.LedgerTransaction),
	}
}

func ledgerKey(retailerID string, kind models.LedgerKind) string {
	return retailerID + "/" + string(kind)
}

func (f *fakeLedgerStore) CreateAccount(_ context.Context, acct *models.LedgerAccount, opening *models.LedgerTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ledgerKey(acct.RetailerID, acct.Kind)
	if _, ok := f.accounts[key]; ok {
		return utils.ErrAccountExists
	}
	f.nextID++
	acct.ID = f.nextID
	acct.Used = decimal.Zero
	acct.Available = acct.Limit
	acct.Outstanding = decimal.Zero
	acct.Status = models.AccountActive
	acct.CreatedAt = time.Now()
	f.accounts[key] = acct
	opening.AccountID = acct.ID
	f.appendLocked(opening)
	return nil
}

func (f *fakeLedgerStore) GetAccount(_ context.Context, retailerID string, kind models.LedgerKind) (*models.LedgerAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[ledgerKey(retailerID, kind)]
	if !ok {
		return nil, utils.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (f *fakeLedgerStore) Mutate(_ context.Context, retailerID string, kind models.LedgerKind, fn func(acct *models.LedgerAccount) (*models.LedgerTransaction, error)) (*models.LedgerAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[ledgerKey(retailerID, kind)]
	if !ok {
		return nil, utils.ErrAccountNotFound
	}
	work := *acct
	trx, err := fn(&work)
	if err != nil {
		return nil, err
	}
	*acct = work
	if trx != nil {
		trx.AccountID = acct.ID
		f.appendLocked(trx)
	}
	cp := *acct
	return &cp, nil
}

func (f *fakeLedgerStore) History(_ context.Context, retailerID string, kind models.LedgerKind) ([]models.LedgerTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[ledgerKey(retailerID, kind)]
	if !ok {
		return nil, utils.ErrAccountNotFound
	}
	out := make([]models.LedgerTransaction, len(f.logs[acct.ID]))
	copy(out, f.logs[acct.ID])
	return out, nil
}

func (f *fakeLedgerStore) ListAccounts(_ context.Context, kind models.LedgerKind) ([]models.LedgerAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LedgerAccount
	for _, a := range f.accounts {
		if a.Kind == kind {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeLedgerStore) ListPastDueAccounts(_ context.Context, asOf time.Time, limit int) ([]models.LedgerAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LedgerAccount
	for _, a := range f.accounts {
		if a.Kind == models.LedgerCredit && a.Status == models.AccountActive &&
			a.NextDueAt != nil && a.NextDueAt.Before(asOf) && a.Outstanding.IsPositive() {
			out = append(out, *a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLedgerStore) appendLocked(trx *models.LedgerTransaction) {
	f.nextID++
	trx.ID = f.nextID
	trx.CreatedAt = time.Now()
	f.logs[trx.AccountID] = append(f.logs[trx.AccountID], *trx)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openCredit(t *testing.T, svc *LedgerService, retailerID, limit string, termsDays int) *models.LedgerAccount {
	t.Helper()
	acct, err := svc.Open(context.Background(), retailerID, models.LedgerCredit, dec(limit), termsDays, "op-1")
	require.NoError(t, err)
	return acct
}

func TestOpenRecordsOpeningEntry(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	acct := openCredit(t, svc, "RET-001", "1000", 30)

	assert.True(t, acct.Available.Equal(dec("1000")))
	assert.True(t, acct.Used.IsZero())
	assert.Equal(t, models.AccountActive, acct.Status)

	history, err := svc.History(context.Background(), "RET-001", models.LedgerCredit)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TrxCreditIncrease, history[0].Type)
	assert.True(t, history[0].Amount.Equal(dec("1000")))
	assert.True(t, history[0].BalanceAfter.Equal(dec("1000")))
}

func TestOpenDuplicateRejected(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "1000", 30)
	_, err := svc.Open(context.Background(), "RET-001", models.LedgerCredit, dec("500"), 30, "op-1")
	assert.ErrorIs(t, err, utils.ErrAccountExists)

	// Same retailer may hold the other kind.
	_, err = svc.Open(context.Background(), "RET-001", models.LedgerKickback, dec("0"), 0, "op-1")
	assert.NoError(t, err)
}

func TestDebitInsufficientBalanceLeavesAccountUntouched(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "100", 30)

	ctx := context.Background()
	_, err := svc.Debit(ctx, "RET-001", models.LedgerCredit, dec("150"), "ORD-1", "XL 150k")
	assert.ErrorIs(t, err, utils.ErrInsufficientBalance)

	acct, err := svc.Snapshot(ctx, "RET-001", models.LedgerCredit)
	require.NoError(t, err)
	assert.True(t, acct.Used.IsZero())
	assert.True(t, acct.Available.Equal(dec("100")))

	history, err := svc.History(ctx, "RET-001", models.LedgerCredit)
	require.NoError(t, err)
	assert.Len(t, history, 1) // only the opening entry
}

func TestAdjustLimitPreservesUsed(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "1000", 30)

	ctx := context.Background()
	_, err := svc.Debit(ctx, "RET-001", models.LedgerCredit, dec("700"), "ORD-1", "bulk topup")
	require.NoError(t, err)

	acct, err := svc.AdjustLimit(ctx, "RET-001", models.LedgerCredit, dec("500"), "op-1", "limit raise")
	require.NoError(t, err)
	assert.True(t, acct.Limit.Equal(dec("1500")))
	assert.True(t, acct.Used.Equal(dec("700")))
	assert.True(t, acct.Available.Equal(dec("800")))
	assert.True(t, acct.Consistent())

	history, err := svc.History(ctx, "RET-001", models.LedgerCredit)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, models.TrxCreditIncrease, last.Type)
	assert.True(t, last.Amount.Equal(dec("500")))

	// Lowering below used would drive available negative.
	_, err = svc.AdjustLimit(ctx, "RET-001", models.LedgerCredit, dec("-900"), "op-1", "too far")
	assert.ErrorIs(t, err, utils.ErrInvalidAmount)
}

func TestReceivePaymentReducesOutstanding(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "1000", 14)

	ctx := context.Background()
	_, err := svc.Debit(ctx, "RET-001", models.LedgerCredit, dec("600"), "ORD-1", "")
	require.NoError(t, err)

	acct, err := svc.ReceivePayment(ctx, "RET-001", dec("400"), "op-1", "bank transfer")
	require.NoError(t, err)
	assert.True(t, acct.Used.Equal(dec("200")))
	assert.True(t, acct.Outstanding.Equal(dec("200")))
	assert.True(t, acct.Available.Equal(dec("800")))
	assert.NotNil(t, acct.LastPaymentAt)
	assert.NotNil(t, acct.NextDueAt)

	// Overpayment floors at zero and clears the due date.
	acct, err = svc.ReceivePayment(ctx, "RET-001", dec("9999"), "op-1", "settlement")
	require.NoError(t, err)
	assert.True(t, acct.Used.IsZero())
	assert.True(t, acct.Outstanding.IsZero())
	assert.True(t, acct.Available.Equal(dec("1000")))
	assert.Nil(t, acct.NextDueAt)
	assert.True(t, acct.Consistent())
}

func TestRefundRestoresBalance(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "500", 30)

	ctx := context.Background()
	_, err := svc.Debit(ctx, "RET-001", models.LedgerCredit, dec("300"), "ORD-1", "")
	require.NoError(t, err)

	acct, err := svc.Refund(ctx, "RET-001", models.LedgerCredit, dec("300"), "ORD-1", "op-1", "provider failure")
	require.NoError(t, err)
	assert.True(t, acct.Used.IsZero())
	assert.True(t, acct.Outstanding.IsZero())
	assert.True(t, acct.Available.Equal(dec("500")))

	history, err := svc.History(ctx, "RET-001", models.LedgerCredit)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, models.TrxRefund, last.Type)
	require.NotNil(t, last.OrderID)
	assert.Equal(t, "ORD-1", *last.OrderID)
}

func TestDebitBlockedOnNonActiveAccount(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "1000", 30)

	ctx := context.Background()
	_, err := svc.SetStatus(ctx, "RET-001", models.LedgerCredit, models.AccountSuspended)
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "RET-001", models.LedgerCredit, dec("10"), "ORD-1", "")
	assert.ErrorIs(t, err, utils.ErrInvalidState)

	// A suspended retailer can still pay down debt.
	_, err = svc.ReceivePayment(ctx, "RET-001", dec("10"), "op-1", "")
	assert.NoError(t, err)
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "1000", 30)

	ctx := context.Background()
	for _, amount := range []string{"0", "-5"} {
		_, err := svc.Debit(ctx, "RET-001", models.LedgerCredit, dec(amount), "ORD-1", "")
		assert.ErrorIs(t, err, utils.ErrInvalidAmount, "debit %s", amount)
		_, err = svc.ReceivePayment(ctx, "RET-001", dec(amount), "op-1", "")
		assert.ErrorIs(t, err, utils.ErrInvalidAmount, "payment %s", amount)
		_, err = svc.Refund(ctx, "RET-001", models.LedgerCredit, dec(amount), "ORD-1", "op-1", "")
		assert.ErrorIs(t, err, utils.ErrInvalidAmount, "refund %s", amount)
	}
	_, err := svc.AdjustLimit(ctx, "RET-001", models.LedgerCredit, dec("0"), "op-1", "")
	assert.ErrorIs(t, err, utils.ErrInvalidAmount)
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "100", 30)

	const workers = 30
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), "RET-001", models.LedgerCredit, dec("10"), fmt.Sprintf("ORD-%d", n), "")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, utils.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 10, succeeded)

	acct, err := svc.Snapshot(context.Background(), "RET-001", models.LedgerCredit)
	require.NoError(t, err)
	assert.True(t, acct.Used.Equal(dec("100")))
	assert.True(t, acct.Available.IsZero())
	assert.True(t, acct.Consistent())

	history, err := svc.History(context.Background(), "RET-001", models.LedgerCredit)
	require.NoError(t, err)
	assert.Len(t, history, 11) // opening + 10 successful debits
}

func TestSnapshotUtilization(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "300", 30)

	ctx := context.Background()
	_, err := svc.Debit(ctx, "RET-001", models.LedgerCredit, dec("100"), "ORD-1", "")
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, "RET-001", models.LedgerCredit)
	require.NoError(t, err)
	assert.Equal(t, "33.33", snap.UtilizationPercent.StringFixed(2))
}

func TestHasSufficientBalance(t *testing.T) {
	svc := NewLedgerService(newFakeLedgerStore())
	openCredit(t, svc, "RET-001", "100", 30)

	ctx := context.Background()
	ok, err := svc.HasSufficientBalance(ctx, "RET-001", models.LedgerCredit, dec("100"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasSufficientBalance(ctx, "RET-001", models.LedgerCredit, dec("100.01"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.HasSufficientBalance(ctx, "RET-404", models.LedgerCredit, dec("1"))
	assert.ErrorIs(t, err, utils.ErrAccountNotFound)
}

func TestFlagPastDue(t *testing.T) {
	store := newFakeLedgerStore()
	svc := NewLedgerService(store)
	openCredit(t, svc, "RET-001", "1000", 7)
	openCredit(t, svc, "RET-002", "1000", 7)

	ctx := context.Background()
	_, err := svc.Debit(ctx, "RET-001", models.LedgerCredit, dec("500"), "ORD-1", "")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "RET-002", models.LedgerCredit, dec("500"), "ORD-2", "")
	require.NoError(t, err)

	flagged, err := svc.FlagPastDue(ctx, time.Now().AddDate(0, 0, 3), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)

	flagged, err = svc.FlagPastDue(ctx, time.Now().AddDate(0, 0, 10), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, flagged)

	acct, err := svc.Snapshot(ctx, "RET-001", models.LedgerCredit)
	require.NoError(t, err)
	assert.Equal(t, models.AccountPendingReview, acct.Status)
}
