package service

import (
	"sync"
	"testing"

	"github.com/cryptomedia/wallet-ledger/internal/domain"
	"github.com/cryptomedia/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferConservesBalance(t *testing.T) {
	h := newHarness(t)
	from := h.funded(domain.CurrencyCMT, "100")
	to := h.funded(domain.CurrencyCMT, "5")

	res := h.ok(from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "42.5", Memo: "rent"})

	afterFrom, afterTo := h.reload(from.ID), h.reload(to.ID)
	assert.Equal(t, from.Total()+to.Total(), afterFrom.Total()+afterTo.Total())
	assert.Equal(t, units(100)-42_500_000, afterFrom.Available)
	assert.Equal(t, units(5)+42_500_000, afterTo.Available)

	tx := h.tx(res.TransactionID)
	assert.Equal(t, domain.TxTransfer, tx.Type)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, "rent", tx.Metadata["memo"])
	assert.Equal(t, string(OpCreateTransfer), tx.Metadata["operation"])
}

func TestTransferIdempotencyKeyReplays(t *testing.T) {
	h := newHarness(t)
	from := h.funded(domain.CurrencyCMT, "10")
	to := h.wallet(uuid.New(), domain.CurrencyCMT)

	op := CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "3", Idempotent: Idempotent{IdempotencyKey: "order-7"}}
	first := h.ok(from.UserID, op)
	second := h.ok(from.UserID, op)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, *first.TransactionID, *second.TransactionID)
	assert.Equal(t, units(3), h.reload(to.ID).Available)
	assert.Len(t, h.transactions(repository.TransactionFilter{WalletID: &to.ID}), 1)
}

func TestDepositReplaysByChainHash(t *testing.T) {
	h := newHarness(t)
	w := h.wallet(uuid.New(), domain.CurrencyJY)

	op := DepositCrypto{WalletID: w.ID, Amount: "7", TxHash: "0xabc", Network: "ethereum"}
	first := h.ok(h.admin, op)
	second := h.ok(h.admin, op)

	assert.True(t, second.Replayed)
	assert.Equal(t, *first.TransactionID, *second.TransactionID)
	assert.Equal(t, units(7), h.reload(w.ID).Available)
}

func TestInsufficientFundsIsRecordedAsFailed(t *testing.T) {
	h := newHarness(t)
	from := h.funded(domain.CurrencyCMT, "1")
	to := h.wallet(uuid.New(), domain.CurrencyCMT)

	res := h.fails(from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "2"}, domain.ErrInsufficientFunds)
	assert.False(t, res.Error.Retryable)

	assert.Equal(t, units(1), h.reload(from.ID).Available)
	assert.Zero(t, h.reload(to.ID).Available)

	failed := h.transactions(repository.TransactionFilter{
		WalletID: &from.ID,
		Statuses: []domain.TxStatus{domain.TxStatusFailed},
	})
	require.Len(t, failed, 1)
	assert.Equal(t, domain.ErrInsufficientFunds.Code, failed[0].Metadata["error_code"])
	assert.Equal(t, domain.CurrencyCMT, failed[0].Currency)
}

func TestCommitFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	from := h.funded(domain.CurrencyCMT, "10")
	to := h.wallet(uuid.New(), domain.CurrencyCMT)
	before := len(h.transactions(repository.TransactionFilter{}))
	entries := len(h.store.LedgerEntries())

	h.store.FailNextCommit()
	res, err := h.engine.Execute(h.ctx, from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "4"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFatalInfrastructure)
	assert.ErrorIs(t, err, repository.ErrInjectedCommitFailure)
	assert.False(t, res.Success)

	assert.Len(t, h.transactions(repository.TransactionFilter{}), before)
	assert.Len(t, h.store.LedgerEntries(), entries)
	assert.Equal(t, units(10), h.reload(from.ID).Available)
	assert.Zero(t, h.reload(to.ID).Available)
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	from := h.funded(domain.CurrencyCMT, "10")
	to := h.wallet(uuid.New(), domain.CurrencyCMT)
	jy := h.wallet(from.UserID, domain.CurrencyJY)

	tests := []struct {
		name  string
		actor uuid.UUID
		op    Operation
		want  *domain.Error
	}{
		{"missing actor", uuid.Nil, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "1"}, domain.ErrUnauthorized},
		{"missing amount", from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID}, domain.ErrValidation},
		{"missing wallet", from.UserID, CreateTransfer{ToWalletID: to.ID, Amount: "1"}, domain.ErrValidation},
		{"negative amount", from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "-1"}, domain.ErrValidation},
		{"sub-micro amount", from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "0.0000001"}, domain.ErrValidation},
		{"same wallet", from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: from.ID, Amount: "1"}, domain.ErrValidation},
		{"currency mismatch", from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: jy.ID, Amount: "1"}, domain.ErrValidation},
		{"not the owner", to.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "1"}, domain.ErrUnauthorized},
		{"unknown wallet", from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: uuid.New(), Amount: "1"}, domain.ErrNotFound},
		{"deposit without privilege", from.UserID, DepositCrypto{WalletID: from.ID, Amount: "1", TxHash: "0x1"}, domain.ErrUnauthorized},
		{"bad fiat symbol", from.UserID, ConvertJOYToFiat{WalletID: jy.ID, Amount: "1", TargetCurrency: "usd"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		res := h.exec(tt.actor, tt.op)
		assert.False(t, res.Success, tt.name)
		if assert.NotNil(t, res.Error, tt.name) {
			assert.Equal(t, tt.want.Code, res.Error.Code, tt.name)
		}
	}
	assert.Equal(t, units(10), h.reload(from.ID).Available)
}

func TestDelegatedGrantActsForOwner(t *testing.T) {
	h := newHarness(t)
	from := h.funded(domain.CurrencyCMT, "10")
	to := h.wallet(uuid.New(), domain.CurrencyCMT)
	agent := uuid.New()

	h.fails(agent, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "1"}, domain.ErrUnauthorized)
	h.gate.Grant(agent, string(OpCreateTransfer), from.ID.String())
	h.ok(agent, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "1"})
	assert.Equal(t, units(1), h.reload(to.ID).Available)
}

func TestConcurrentOppositeTransfers(t *testing.T) {
	h := newHarness(t)
	a := h.funded(domain.CurrencyCMT, "100")
	b := h.funded(domain.CurrencyCMT, "100")

	const rounds = 25
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := h.engine.Execute(h.ctx, a.UserID, CreateTransfer{FromWalletID: a.ID, ToWalletID: b.ID, Amount: "1"})
			if err == nil && !res.Success {
				err = assert.AnError
			}
			errs <- err
		}()
		go func() {
			defer wg.Done()
			res, err := h.engine.Execute(h.ctx, b.UserID, CreateTransfer{FromWalletID: b.ID, ToWalletID: a.ID, Amount: "1"})
			if err == nil && !res.Success {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	afterA, afterB := h.reload(a.ID), h.reload(b.ID)
	assert.Equal(t, units(100), afterA.Available)
	assert.Equal(t, units(100), afterB.Available)
	requireNonNegative(t, afterA)
	requireNonNegative(t, afterB)
}

func TestTipTakesFeeDonationDoesNot(t *testing.T) {
	h := newHarness(t)
	fan := h.funded(domain.CurrencyCMT, "200")
	creator := h.wallet(uuid.New(), domain.CurrencyCMT)
	treasury := h.treasury(domain.CurrencyCMT)

	tip := h.ok(fan.UserID, SendTip{FromWalletID: fan.ID, ToWalletID: creator.ID, Amount: "100", ContentID: "post-1"})
	assert.Equal(t, units(95), h.reload(creator.ID).Available)
	assert.Equal(t, treasury.Available+units(5), h.reload(treasury.ID).Available)
	tipTx := h.tx(tip.TransactionID)
	assert.Equal(t, units(5), tipTx.Fee)
	assert.Equal(t, "post-1", tipTx.Metadata["content_id"])

	h.ok(fan.UserID, SendDonation{FromWalletID: fan.ID, ToWalletID: creator.ID, Amount: "50"})
	h.ok(fan.UserID, SendGift{FromWalletID: fan.ID, ToWalletID: creator.ID, Amount: "50", Message: "hi"})
	assert.Equal(t, units(195), h.reload(creator.ID).Available)
	assert.Equal(t, treasury.Available+units(5), h.reload(treasury.ID).Available)
	assert.Zero(t, h.reload(fan.ID).Available)
}

func TestFrozenWalletCannotSend(t *testing.T) {
	h := newHarness(t)
	from := h.funded(domain.CurrencyCMT, "10")
	to := h.wallet(uuid.New(), domain.CurrencyCMT)

	_, err := h.wallets.FreezeWallet(h.ctx, from.ID, "review", &h.admin)
	require.NoError(t, err)
	h.fails(from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "1"}, domain.ErrWalletFrozen)

	_, err = h.wallets.UnlockWallet(h.ctx, from.ID, &h.admin)
	require.NoError(t, err)
	h.ok(from.UserID, CreateTransfer{FromWalletID: from.ID, ToWalletID: to.ID, Amount: "1"})
}

func TestDecodeOperation(t *testing.T) {
	op, err := DecodeOperation(string(OpCreateTransfer), []byte(`{"from_wallet_id":"`+uuid.NewString()+`","to_wallet_id":"`+uuid.NewString()+`","amount":"1.5"}`))
	require.NoError(t, err)
	transfer, ok := op.(CreateTransfer)
	require.True(t, ok)
	assert.Equal(t, "1.5", transfer.Amount)

	_, err = DecodeOperation(string(OpCreateTransfer), []byte(`{"amount":"1","surprise":true}`))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = DecodeOperation("mintMoney", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Len(t, OperationKinds(), 33)
}

func TestOversizedAmountsAreRejected(t *testing.T) {
	h := newHarness(t)
	w := h.wallet(uuid.New(), domain.CurrencyCMT)

	h.fails(h.admin, DepositCrypto{WalletID: w.ID, Amount: "20000000000000", TxHash: "0xbig", Network: "ethereum"}, domain.ErrValidation)
	assert.Zero(t, h.reload(w.ID).Available)

	h.deposit(w.ID, "9223372036854")
	full := h.reload(w.ID).Available
	h.fails(h.admin, DepositCrypto{WalletID: w.ID, Amount: "1", TxHash: "0xover", Network: "ethereum"}, domain.ErrValidation)
	assert.Equal(t, full, h.reload(w.ID).Available)
}
