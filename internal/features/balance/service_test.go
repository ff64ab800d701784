package balance

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/cache"
	"serotonyl.ru/growstore-bot/internal/common"
	"serotonyl.ru/growstore-bot/internal/currency"
	"serotonyl.ru/growstore-bot/internal/events"
	"serotonyl.ru/growstore-bot/internal/locks"
)

func newTestService(t *testing.T) (*Service, *fakeStore, *events.Bus) {
	t.Helper()
	store := newFakeStore()
	bus := events.NewRecordingBus()
	cfg := DefaultSettings()
	cfg.Location = time.UTC
	cfg.LockTimeout = 2 * time.Second
	svc := NewService(store, cache.NewMemory(), locks.NewRegistry(5*time.Second), bus, cfg)
	return svc, store, bus
}

func TestRegisterUserIsIdempotent(t *testing.T) {
	svc, store, bus := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterUser(ctx, "100", "Alice")
	require.NoError(t, err)
	_, err = svc.RegisterUser(ctx, "100", "Alice")
	require.NoError(t, err)

	assert.Len(t, store.users, 1)
	assert.Len(t, store.links, 1)
	assert.Len(t, bus.PublishedOf(events.KindUserRegistered), 2)

	g, err := svc.GetGrowid(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "Alice", g)
}

func TestRegisterUserRejectsGrowidOfAnotherAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterUser(ctx, "100", "Alice")
	require.NoError(t, err)

	_, err = svc.RegisterUser(ctx, "200", "ALICE")
	assert.ErrorIs(t, err, common.ErrGrowidExists)
}

func TestRegisterUserValidatesLength(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.RegisterUser(context.Background(), "100", "ab")
	assert.ErrorIs(t, err, common.ErrInvalidGrowid)
	_, err = svc.RegisterUser(context.Background(), "100", "a234567890123456789012345678901")
	assert.ErrorIs(t, err, common.ErrInvalidGrowid)
}

func TestRegisterUserRejectsSpecialCharacters(t *testing.T) {
	svc, store, _ := newTestService(t)
	for _, g := range []string{"ab[c", "al*ce", "bob?", "a b c", "игрок"} {
		_, err := svc.RegisterUser(context.Background(), "100", g)
		assert.ErrorIs(t, err, common.ErrInvalidGrowid, g)
	}
	assert.Empty(t, store.users)
}

func TestGetGrowidNotRegistered(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.GetGrowid(context.Background(), "404")
	assert.ErrorIs(t, err, common.ErrNotRegistered)
}

func TestUpdateBalanceChecksEachDenomination(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 50, DL: 5, BGL: 1})

	// эквивалента хватает, но WL всего 50
	_, err := svc.UpdateBalance(context.Background(), "alice", currency.Balance{WL: -100}, "тест", TxWithdrawal)
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)
	assert.Equal(t, currency.Balance{WL: 50, DL: 5, BGL: 1}, store.balance("alice"))
	assert.Empty(t, store.txsOf("alice", ""))
}

func TestUpdateBalanceNeverGoesNegative(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 500, DL: 5, BGL: 1})
	rnd := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		delta := currency.Balance{
			WL:  rnd.Int63n(201) - 100,
			DL:  rnd.Int63n(7) - 3,
			BGL: rnd.Int63n(3) - 1,
		}
		if delta.IsZero() {
			continue
		}
		_, err := svc.UpdateBalance(ctx, "alice", delta, "случайная дельта", TxAdminAdd)
		if err != nil {
			require.Contains(t, []common.Kind{common.KindInsufficientBalance, common.KindValidation}, common.KindOf(err))
		}

		b := store.balance("alice")
		require.GreaterOrEqual(t, b.WL, int64(0))
		require.GreaterOrEqual(t, b.DL, int64(0))
		require.GreaterOrEqual(t, b.BGL, int64(0))
	}
}

func TestUpdateBalanceSerializesSameUser(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{})

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.UpdateBalance(context.Background(), "alice", currency.Balance{WL: 10}, "пополнение", TxDeposit)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(200), store.balance("alice").TotalWL())
	assert.Len(t, store.txsOf("alice", TxDeposit), n)
}

func TestDailyLimitScenario(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 10})
	store.usage[usageKey("alice", common.DayStart(time.Now(), time.UTC))] = 999_999
	ctx := context.Background()

	_, err := svc.UpdateBalance(ctx, "alice", currency.Balance{WL: -2}, "покупка", TxPurchase)
	assert.ErrorIs(t, err, common.ErrDailyLimitExceeded)
	assert.Equal(t, int64(10), store.balance("alice").WL)

	// админское списание лимитом не ограничено
	_, err = svc.UpdateBalance(ctx, "alice", currency.Balance{WL: -2}, "списание", TxAdminRemove)
	require.NoError(t, err)
	assert.Equal(t, int64(8), store.balance("alice").WL)

	used, err := svc.GetDailyUsage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(999_999), used)
}

func TestDailyUsageAccumulatesDebitsOnly(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 1000})
	ctx := context.Background()

	_, err := svc.UpdateBalance(ctx, "alice", currency.Balance{WL: -300}, "покупка", TxPurchase)
	require.NoError(t, err)
	_, err = svc.UpdateBalance(ctx, "alice", currency.Balance{WL: 500}, "пополнение", TxDeposit)
	require.NoError(t, err)

	used, err := svc.GetDailyUsage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(300), used)
}

func TestUpdateBalanceRespectsMaxBalance(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{BGL: 100})

	_, err := svc.UpdateBalance(context.Background(), "alice", currency.Balance{WL: 1}, "пополнение", TxDeposit)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestLockedAccount(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 100})
	ctx := context.Background()

	require.NoError(t, svc.LockBalance(ctx, "alice", "проверка"))

	_, err := svc.GetBalance(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrBalanceLocked)
	_, err = svc.UpdateBalance(ctx, "alice", currency.Balance{WL: 1}, "x", TxDeposit)
	assert.ErrorIs(t, err, common.ErrBalanceLocked)

	require.NoError(t, svc.UnlockBalance(ctx, "alice"))
	b, err := svc.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.WL)
}

func TestLockStatusReadWaitsForLockChange(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 100})
	ctx := context.Background()

	// LockBalance в процессе: блокировка счёта взята, в базе статус ещё старый
	key := locks.AccountLock("alice")
	require.True(t, svc.locks.Acquire(ctx, key, time.Second))

	got := make(chan bool, 1)
	go func() {
		locked, err := svc.IsLocked(ctx, "alice")
		assert.NoError(t, err)
		got <- locked
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.SetLocked(ctx, "alice", true, "проверка"))
	svc.locks.Release(key)

	assert.True(t, <-got)
	_, err := svc.GetBalance(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrBalanceLocked)
}

func TestTransferMovesFunds(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{DL: 5})
	store.addUser("bob", currency.Balance{})

	res, err := svc.TransferBalance(context.Background(), "alice", "bob", 150)
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.AmountWL)
	assert.Equal(t, int64(350), store.balance("alice").TotalWL())
	assert.Equal(t, int64(150), store.balance("bob").TotalWL())
	assert.Len(t, store.txsOf("alice", TxTransferOut), 1)
	assert.Len(t, store.txsOf("bob", TxTransferIn), 1)
}

func TestTransferRejectsSelfAndBadAmount(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 100})

	_, err := svc.TransferBalance(context.Background(), "alice", "ALICE", 10)
	assert.ErrorIs(t, err, common.ErrSelfTransfer)
	_, err = svc.TransferBalance(context.Background(), "alice", "bob", 0)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestTransferRollsBackWhenCreditFails(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 100})
	// получатель на потолке баланса, зачисление упадёт
	store.addUser("bob", currency.Balance{BGL: 100})

	_, err := svc.TransferBalance(context.Background(), "alice", "bob", 10)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))

	assert.Equal(t, int64(100), store.balance("alice").TotalWL())
	assert.Len(t, store.txsOf("alice", TxTransferOut), 1)
	assert.Len(t, store.txsOf("alice", TxTransferRollback), 1)
	assert.Equal(t, int64(1_000_000), store.balance("bob").TotalWL())
}

func TestOppositeTransfersDoNotDeadlock(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 1000})
	store.addUser("bob", currency.Balance{WL: 1000})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.TransferBalance(context.Background(), "alice", "bob", 1)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := svc.TransferBalance(context.Background(), "bob", "alice", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2000), store.balance("alice").TotalWL()+store.balance("bob").TotalWL())
}

func TestSuspiciousActivityDoesNotBlock(t *testing.T) {
	svc, store, bus := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 1000})

	applied, err := svc.UpdateBalance(context.Background(), "alice", currency.Balance{WL: -600}, "покупка", TxPurchase)
	require.NoError(t, err)
	assert.NotEmpty(t, applied.Suspicious)

	bus.Wait()
	got := bus.PublishedOf(events.KindSuspiciousActivity)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].(events.SuspiciousActivity).Growid)
}

func TestStorageFailureIsProcessingError(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 100})
	store.failApply = errors.New("connection reset")

	_, err := svc.UpdateBalance(context.Background(), "alice", currency.Balance{WL: 1}, "x", TxDeposit)
	assert.Equal(t, common.KindProcessing, common.KindOf(err))
	assert.NotContains(t, common.UserMessage(err), "connection reset")
}

func TestTransactionHistory(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 100})
	ctx := context.Background()

	_, err := svc.GetTransactionHistory(ctx, "alice", 10, 0, HistoryFilter{})
	assert.ErrorIs(t, err, common.ErrNoHistory)

	_, err = svc.UpdateBalance(ctx, "alice", currency.Balance{WL: 5}, "первая", TxDeposit)
	require.NoError(t, err)
	txs, err := svc.GetTransactionHistory(ctx, "alice", 10, 0, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	_, err = svc.UpdateBalance(ctx, "alice", currency.Balance{WL: -5}, "вторая", TxPurchase)
	require.NoError(t, err)
	txs, err = svc.GetTransactionHistory(ctx, "alice", 10, 0, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "вторая", txs[0].Details)

	txs, err = svc.GetTransactionHistory(ctx, "alice", 10, 0, HistoryFilter{Type: TxDeposit})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(5), txs[0].AmountWL)
}

func TestTransactionHistoryRefreshesForGlobGrowid(t *testing.T) {
	svc, store, _ := newTestService(t)
	// запись, созданная до проверки формата GrowID
	store.addUser("ab[c", currency.Balance{})
	ctx := context.Background()

	_, err := svc.UpdateBalance(ctx, "ab[c", currency.Balance{WL: 5}, "первая", TxDeposit)
	require.NoError(t, err)
	txs, err := svc.GetTransactionHistory(ctx, "ab[c", 10, 0, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	_, err = svc.UpdateBalance(ctx, "ab[c", currency.Balance{WL: 7}, "вторая", TxDeposit)
	require.NoError(t, err)
	txs, err = svc.GetTransactionHistory(ctx, "ab[c", 10, 0, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestResetBalance(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{WL: 5, DL: 3, BGL: 2})

	applied, err := svc.ResetBalance(context.Background(), "alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(-20305), applied.AmountWL)
	assert.True(t, store.balance("alice").IsZero())
	assert.Len(t, store.txsOf("alice", TxAdminReset), 1)
}

func TestFormatTransaction(t *testing.T) {
	tx := Transaction{
		Type:       TxPurchase,
		OldBalance: "1 DL",
		NewBalance: "50 WL",
		AmountWL:   -50,
		CreatedAt:  time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
	}
	assert.Equal(t, "01.05.2024 12:30 | Покупка | -50 WL | баланс: 50 WL", FormatTransaction(tx, time.UTC))
}

func TestDebitBreaksLargerDenominations(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", currency.Balance{BGL: 1})

	applied, err := svc.Debit(context.Background(), "alice", 150, "Покупка", TxPurchase)
	require.NoError(t, err)
	assert.Equal(t, int64(-150), applied.AmountWL)
	assert.Equal(t, currency.Balance{WL: 50, DL: 98}, store.balance("alice"))

	_, err = svc.Debit(context.Background(), "alice", 1_000_000, "Покупка", TxPurchase)
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)
	assert.Equal(t, int64(9850), store.balance("alice").TotalWL())
}
