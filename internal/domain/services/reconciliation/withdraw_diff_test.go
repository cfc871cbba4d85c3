package reconciliation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chainledger/chainledger/internal/domain/entities"
	"github.com/chainledger/chainledger/internal/explorer"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/pkg/logger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockWithdrawRepo struct {
	mock.Mock
}

func (m *mockWithdrawRepo) GetSentByChain(ctx context.Context, chain string) ([]*entities.WithdrawRequest, error) {
	args := m.Called(ctx, chain)
	if requests := args.Get(0); requests != nil {
		return requests.([]*entities.WithdrawRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockWithdrawRepo) GetByTxHash(ctx context.Context, chain, txHash string) ([]*entities.WithdrawRequest, error) {
	args := m.Called(ctx, chain, txHash)
	if requests := args.Get(0); requests != nil {
		return requests.([]*entities.WithdrawRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockWithdrawRepo) MarkDone(ctx context.Context, ids []uuid.UUID) error {
	return m.Called(ctx, ids).Error(0)
}

func (m *mockWithdrawRepo) CreateDiff(ctx context.Context, diff *entities.WithdrawDiff) error {
	return m.Called(ctx, diff).Error(0)
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Alert(ctx context.Context, title string, details map[string]interface{}) {
	m.Called(ctx, title, details)
}

// fakeChainView serves canned transfers for one chain
type fakeChainView struct {
	chain     string
	policy    *explorer.ChainPolicy
	transfers map[string][]entities.TransferTx
}

func (f *fakeChainView) Chain() string                 { return f.chain }
func (f *fakeChainView) Policy() *explorer.ChainPolicy { return f.policy }

func (f *fakeChainView) GetTxDetails(ctx context.Context, txHash string) ([]entities.TransferTx, error) {
	return f.transfers[txHash], nil
}

func newReconciler(repo *mockWithdrawRepo, alerter *mockAlerter, feeSkimChains ...string) *WithdrawDiffReconciler {
	cfg := config.ReconciliationConfig{Enabled: true, FeeSkimChains: feeSkimChains}
	return NewWithdrawDiffReconciler(repo, alerter, cfg, logger.NewNop())
}

func withdraw(txHash, amount, fee string) *entities.WithdrawRequest {
	return &entities.WithdrawRequest{
		ID:         uuid.New(),
		Chain:      "ton",
		TxHash:     txHash,
		Amount:     d(amount),
		NetworkFee: d(fee),
	}
}

func TestAmountsMatch_WithinOneUnit(t *testing.T) {
	r := newReconciler(new(mockWithdrawRepo), new(mockAlerter))

	assert.True(t, r.amountsMatch("eth", d("1.5"), d("1.5"), d("0"), 6))
	assert.True(t, r.amountsMatch("eth", d("1.500001"), d("1.5"), d("0"), 6), "one unit of rounding is tolerated")
	assert.True(t, r.amountsMatch("eth", d("1.499999"), d("1.5"), d("0"), 6))
	assert.False(t, r.amountsMatch("eth", d("1.4"), d("1.5"), d("0"), 6))
	assert.False(t, r.amountsMatch("eth", d("1.6"), d("1.5"), d("0"), 6), "overpaying is a diff too")
}

func TestAmountsMatch_FeeSkim(t *testing.T) {
	r := newReconciler(new(mockWithdrawRepo), new(mockAlerter), "ton")

	// chain amount short by exactly the fee on a fee-skimming chain
	assert.True(t, r.amountsMatch("ton", d("9.99"), d("10"), d("0.01"), 9))
	// short by less than the fee is also fine
	assert.True(t, r.amountsMatch("ton", d("9.995"), d("10"), d("0.01"), 9))
	// short by more than the fee is a diff
	assert.False(t, r.amountsMatch("ton", d("9.9"), d("10"), d("0.01"), 9))
	// the exemption never excuses overpaying
	assert.False(t, r.amountsMatch("ton", d("10.05"), d("10"), d("0.01"), 9))
	// and never applies to other chains
	assert.False(t, r.amountsMatch("eth", d("9.99"), d("10"), d("0.01"), 9))
}

func TestReconcile_MatchMarksDone(t *testing.T) {
	repo := new(mockWithdrawRepo)
	alerter := new(mockAlerter)
	r := newReconciler(repo, alerter)

	w1 := withdraw("0xbatch", "3", "0")
	w2 := withdraw("0xbatch", "7", "0")
	repo.On("GetSentByChain", mock.Anything, "ton").
		Return([]*entities.WithdrawRequest{w1, w2}, nil)
	repo.On("MarkDone", mock.Anything, mock.MatchedBy(func(ids []uuid.UUID) bool {
		return len(ids) == 2
	})).Return(nil)

	view := &fakeChainView{
		chain:  "ton",
		policy: &explorer.ChainPolicy{Network: "ton", Symbol: "TON", Precision: 9},
		transfers: map[string][]entities.TransferTx{
			"0xbatch": {
				{TxHash: "0xbatch", FromAddress: "hot", ToAddress: "a", Value: d("3")},
				{TxHash: "0xbatch", FromAddress: "hot", ToAddress: "b", Value: d("7")},
			},
		},
	}

	require.NoError(t, r.Reconcile(context.Background(), view))
	repo.AssertExpectations(t)
	alerter.AssertNotCalled(t, "Alert", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_MismatchCreatesDiffAndAlerts(t *testing.T) {
	repo := new(mockWithdrawRepo)
	alerter := new(mockAlerter)
	r := newReconciler(repo, alerter)

	w := withdraw("0xshort", "10", "0")
	repo.On("GetSentByChain", mock.Anything, "ton").
		Return([]*entities.WithdrawRequest{w}, nil)
	repo.On("CreateDiff", mock.Anything, mock.MatchedBy(func(diff *entities.WithdrawDiff) bool {
		return diff.Chain == "ton" && diff.TxHash == "0xshort" &&
			diff.ChainAmount.Equal(d("8")) && diff.InternalAmount.Equal(d("10"))
	})).Return(nil)
	alerter.On("Alert", mock.Anything, "withdraw amount mismatch", mock.Anything).Return()

	view := &fakeChainView{
		chain:  "ton",
		policy: &explorer.ChainPolicy{Network: "ton", Symbol: "TON", Precision: 9},
		transfers: map[string][]entities.TransferTx{
			"0xshort": {{TxHash: "0xshort", FromAddress: "hot", ToAddress: "a", Value: d("8")}},
		},
	}

	require.NoError(t, r.Reconcile(context.Background(), view))
	repo.AssertExpectations(t)
	alerter.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkDone", mock.Anything, mock.Anything)
}

func TestReconcile_UnconfirmedTxSkipped(t *testing.T) {
	repo := new(mockWithdrawRepo)
	alerter := new(mockAlerter)
	r := newReconciler(repo, alerter)

	repo.On("GetSentByChain", mock.Anything, "ton").
		Return([]*entities.WithdrawRequest{withdraw("0xpending", "10", "0")}, nil)

	view := &fakeChainView{
		chain:     "ton",
		policy:    &explorer.ChainPolicy{Network: "ton", Symbol: "TON", Precision: 9},
		transfers: map[string][]entities.TransferTx{},
	}

	require.NoError(t, r.Reconcile(context.Background(), view))
	repo.AssertNotCalled(t, "MarkDone", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "CreateDiff", mock.Anything, mock.Anything)
}

func TestReconcile_RequestsWithoutTxHashIgnored(t *testing.T) {
	repo := new(mockWithdrawRepo)
	alerter := new(mockAlerter)
	r := newReconciler(repo, alerter)

	repo.On("GetSentByChain", mock.Anything, "ton").
		Return([]*entities.WithdrawRequest{withdraw("", "10", "0")}, nil)

	view := &fakeChainView{
		chain:  "ton",
		policy: &explorer.ChainPolicy{Network: "ton", Symbol: "TON", Precision: 9},
	}

	require.NoError(t, r.Reconcile(context.Background(), view))
	repo.AssertNotCalled(t, "MarkDone", mock.Anything, mock.Anything)
}
