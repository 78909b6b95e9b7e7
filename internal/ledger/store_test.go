package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robinclaw/robinclaw/internal/apperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAgent(name string) *Agent {
	return &Agent{
		ID:                "id-" + name,
		Name:              name,
		WalletAddress:     "0x" + fmt.Sprintf("%040x", len(name)*7919+int(name[0])),
		PrivateKeyEnc:     "sealed-" + name,
		APIKeyHash:        "hash-" + name,
		DepositAmount:     1000,
		CreatedAt:         time.Now(),
		WithdrawalAddress: "0x000000000000000000000000000000000000dEaD",
	}
}

func activate(t *testing.T, s *Store, id string) {
	t.Helper()
	tx := "0xdeposit"
	require.NoError(t, s.UpdateAgentStatus(context.Background(), id, StatusActive, AgentPatch{DepositTx: &tx}))
}

func closurePatch(equity, pnl, pct float64) AgentPatch {
	now := time.Now()
	return AgentPatch{ClosedAt: &now, FinalEquity: &equity, FinalPnL: &pnl, FinalPnLPct: &pct}
}

func TestCreateAndGetAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, StatusPendingDeposit, got.Status)
	assert.Equal(t, 1000.0, got.DepositAmount)
	assert.Nil(t, got.ClosedAt)
	assert.Nil(t, got.FinalPnL)

	byName, err := s.GetAgentByName(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byName.ID)

	byHash, err := s.GetAgentByCredentialHash(ctx, "hash-alpha")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byHash.ID)
}

func TestGetAgentNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgent(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = s.GetAgentByCredentialHash(context.Background(), "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateAgentConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, testAgent("alpha")))

	dupName := testAgent("alpha")
	dupName.ID = "other"
	dupName.WalletAddress = "0x1111111111111111111111111111111111111111"
	dupName.APIKeyHash = "other-hash"
	err := s.CreateAgent(ctx, dupName)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, "Agent name 'alpha' is already taken.", apperr.Message(err))

	dupWallet := testAgent("beta")
	dupWallet.WalletAddress = testAgent("alpha").WalletAddress
	err = s.CreateAgent(ctx, dupWallet)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	dupHash := testAgent("gamma")
	dupHash.APIKeyHash = "hash-alpha"
	err = s.CreateAgent(ctx, dupHash)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))

	// pending_deposit cannot skip straight to closed
	err := s.UpdateAgentStatus(ctx, a.ID, StatusClosed, closurePatch(1, 1, 1))
	assert.True(t, apperr.Is(err, apperr.KindPolicy))

	activate(t, s, a.ID)
	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	require.NotNil(t, got.DepositTx)
	assert.Equal(t, "0xdeposit", *got.DepositTx)

	// re-activating is rejected
	err = s.UpdateAgentStatus(ctx, a.ID, StatusActive, AgentPatch{})
	assert.True(t, apperr.Is(err, apperr.KindPolicy))

	// no transition back to pending
	err = s.UpdateAgentStatus(ctx, a.ID, StatusPendingDeposit, AgentPatch{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCloseRequiresAllClosureFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))
	activate(t, s, a.ID)

	equity := 1500.0
	err := s.UpdateAgentStatus(ctx, a.ID, StatusClosed, AgentPatch{FinalEquity: &equity})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Nil(t, got.FinalEquity)
}

func TestPartialUpdateLeavesAbsentFieldsUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))
	activate(t, s, a.ID)

	require.NoError(t, s.UpdateAgentStatus(ctx, a.ID, StatusClosed, closurePatch(1500, 500, 50)))

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	require.NotNil(t, got.DepositTx)
	assert.Equal(t, "0xdeposit", *got.DepositTx)
	assert.Equal(t, 1000.0, got.DepositAmount)
	assert.Equal(t, 1500.0, *got.FinalEquity)
	assert.Equal(t, 500.0, *got.FinalPnL)
	assert.Equal(t, 50.0, *got.FinalPnLPct)
	assert.NotNil(t, got.ClosedAt)
	assert.Nil(t, got.WithdrawalTx)
}

func TestCloseIsExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))
	activate(t, s, a.ID)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		policy  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.UpdateAgentStatus(ctx, a.ID, StatusClosed, closurePatch(float64(1000+i), float64(i), float64(i)/10))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else if apperr.Is(err, apperr.KindPolicy) {
				policy++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, policy)

	err := s.UpdateAgentStatus(ctx, a.ID, StatusClosed, closurePatch(1, 1, 1))
	require.Error(t, err)
	assert.Equal(t, "Account already closed.", apperr.Message(err))
}

func TestListOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	pcts := map[string]float64{"alpha": -20, "bravo": 50, "charlie": 5, "delta": 0}
	i := 0
	for _, name := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		a := testAgent(name)
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		i++
		require.NoError(t, s.CreateAgent(ctx, a))
		activate(t, s, a.ID)
		if pct, ok := pcts[name]; ok {
			require.NoError(t, s.UpdateAgentStatus(ctx, a.ID, StatusClosed, closurePatch(1000+pct*10, pct*10, pct)))
		}
	}

	closed, err := s.ListClosedAgents(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 4)
	for i := 1; i < len(closed); i++ {
		assert.Greater(t, *closed[i-1].FinalPnLPct, *closed[i].FinalPnLPct)
	}
	assert.Equal(t, "bravo", closed[0].Name)
	assert.Equal(t, "alpha", closed[3].Name)

	active, err := s.ListActiveAgents(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "echo", active[0].Name)
}

func TestDepositAmountIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))

	_, err := s.db.ExecContext(ctx, `UPDATE agents SET deposit_amount=? WHERE id=?`, 5.0, a.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(classify(err, "update"), apperr.KindPolicy))
}

func TestNextCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := s.NextCounter(ctx, "wallet_index")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := s.NextCounter(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestJobRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta := `{"trigger":"manual"}`
	id, err := s.InsertJobRunStart(ctx, "fills_sync", "batch", nil, &meta)
	require.NoError(t, err)

	msg := "1 agent failed"
	require.NoError(t, s.FinishJobRun(ctx, id, false, &msg, nil))

	run, err := s.GetJobRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fills_sync", run.JobName)
	require.NotNil(t, run.OK)
	assert.False(t, *run.OK)
	require.NotNil(t, run.MetaJSON)
	assert.Equal(t, meta, *run.MetaJSON)

	runs, err := s.ListJobRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = s.GetJobRun(ctx, 999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
