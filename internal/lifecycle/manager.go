// Package lifecycle owns the agent state machine: registration, authentication,
// trading on behalf of active agents, and the one-way account closure.
package lifecycle

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/custody"
	"github.com/robinclaw/robinclaw/internal/ledger"
	"github.com/robinclaw/robinclaw/internal/metrics"
	"github.com/robinclaw/robinclaw/pkg/logger"
	"github.com/robinclaw/robinclaw/pkg/sigchan"
)

const (
	minNameLen = 3
	maxNameLen = 32
)

// Sealer encrypts key material before it reaches the ledger.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

type Policy struct {
	MinDeposit      float64
	MaxDeposit      float64
	DefaultSlippage float64
	MaxLeverage     int
}

func DefaultPolicy() Policy {
	return Policy{MinDeposit: 10, MaxDeposit: 100, DefaultSlippage: 0.05, MaxLeverage: 50}
}

type Manager struct {
	store    *ledger.Store
	sealer   Sealer
	wallets  custody.Provisioner
	gateways GatewayFactory
	policy   Policy
	now      func() time.Time
	log      *logrus.Entry

	closing sync.Map
	// fillNudge asks the background loop for an early fill sync after a fill.
	fillNudge *sigchan.Chan

	bgCancel func()
	bgWG     sync.WaitGroup
	jobWG    sync.WaitGroup
}

func NewManager(store *ledger.Store, sealer Sealer, wallets custody.Provisioner, gateways GatewayFactory, policy Policy) *Manager {
	if policy.DefaultSlippage <= 0 {
		policy.DefaultSlippage = 0.05
	}
	if policy.MaxLeverage <= 0 {
		policy.MaxLeverage = 50
	}
	return &Manager{
		store:     store,
		sealer:    sealer,
		wallets:   wallets,
		gateways:  gateways,
		policy:    policy,
		now:       time.Now,
		log:       logger.WithField("component", "lifecycle"),
		fillNudge: sigchan.New(),
	}
}

func (m *Manager) Policy() Policy { return m.policy }

type RegisterRequest struct {
	Name              string
	DepositAmount     float64
	WithdrawalAddress string
}

// Registration carries the only copy of the raw API key that will ever exist.
type Registration struct {
	Agent  *ledger.Agent
	APIKey string
}

func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*Registration, error) {
	name := strings.TrimSpace(req.Name)
	if n := len([]rune(name)); n < minNameLen || n > maxNameLen {
		return nil, apperr.Validation("Agent name must be %d-%d characters.", minNameLen, maxNameLen)
	}
	if d := req.DepositAmount; math.IsNaN(d) || math.IsInf(d, 0) || d < m.policy.MinDeposit || d > m.policy.MaxDeposit {
		return nil, apperr.Validation("Deposit must be between $%s and $%s.", money(m.policy.MinDeposit), money(m.policy.MaxDeposit))
	}
	withdrawal := strings.TrimSpace(req.WithdrawalAddress)
	if !common.IsHexAddress(withdrawal) {
		return nil, apperr.Validation("Withdrawal address must be a valid 0x address.")
	}

	// Cheap pre-check; the unique index stays authoritative under races.
	if _, err := m.store.GetAgentByName(ctx, name); err == nil {
		return nil, apperr.Conflict("Agent name '%s' is already taken.", name)
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	wallet, err := m.wallets.Provision(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "failed to provision wallet")
	}
	sealed, err := m.sealer.Seal(wallet.PrivateKeyHex)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "failed to seal wallet key")
	}
	apiKey, err := custody.IssueAPIKey()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "failed to issue api key")
	}

	agent := &ledger.Agent{
		ID:                uuid.NewString(),
		Name:              name,
		WalletAddress:     wallet.Address,
		WalletIndex:       wallet.Index,
		PrivateKeyEnc:     sealed,
		APIKeyHash:        custody.HashAPIKey(apiKey),
		DepositAmount:     req.DepositAmount,
		CreatedAt:         m.now().UTC(),
		Status:            ledger.StatusPendingDeposit,
		WithdrawalAddress: common.HexToAddress(withdrawal).Hex(),
	}
	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	metrics.AgentsRegistered.Add(1)
	m.log.WithFields(logrus.Fields{"agent": agent.Name, "wallet": agent.WalletAddress}).Info("agent registered")
	return &Registration{Agent: agent, APIKey: apiKey}, nil
}

// Authenticate resolves a bearer key to its agent. It is evaluated on every request.
func (m *Manager) Authenticate(ctx context.Context, apiKey string) (*ledger.Agent, error) {
	apiKey = strings.TrimSpace(apiKey)
	if !custody.ValidAPIKeyFormat(apiKey) {
		metrics.AuthFailures.Add(1)
		return nil, apperr.Auth("Invalid API key format")
	}
	agent, err := m.store.GetAgentByCredentialHash(ctx, custody.HashAPIKey(apiKey))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			metrics.AuthFailures.Add(1)
			return nil, apperr.Auth("Invalid API key")
		}
		return nil, err
	}
	return agent, nil
}

// Activate marks a pending agent's deposit as received. The deposit itself is
// confirmed out of band by the operator.
func (m *Manager) Activate(ctx context.Context, name, depositTx string) (*ledger.Agent, error) {
	agent, err := m.store.GetAgentByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	var patch ledger.AgentPatch
	if tx := strings.TrimSpace(depositTx); tx != "" {
		patch.DepositTx = &tx
	}
	if err := m.store.UpdateAgentStatus(ctx, agent.ID, ledger.StatusActive, patch); err != nil {
		return nil, err
	}
	metrics.AgentsActivated.Add(1)
	m.log.WithField("agent", agent.Name).Info("agent activated")
	return m.store.GetAgent(ctx, agent.ID)
}

func (m *Manager) ListAgents(ctx context.Context) ([]ledger.Agent, error) {
	return m.store.ListAgents(ctx)
}

func (m *Manager) JobRuns(ctx context.Context, limit int) ([]ledger.JobRun, error) {
	return m.store.ListJobRuns(ctx, limit)
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func (m *Manager) trader(agent *ledger.Agent) (Trader, error) {
	t, err := m.gateways(agent.PrivateKeyEnc)
	if err != nil {
		m.log.WithField("agent", agent.Name).Errorf("build gateway: %v", err)
		return nil, apperr.Wrap(apperr.KindPersistence, err, "failed to load agent wallet")
	}
	return t, nil
}

func requireActive(agent *ledger.Agent) error {
	if agent.Status != ledger.StatusActive {
		return apperr.Policy("Agent is %s, not active. Cannot trade.", agent.Status)
	}
	return nil
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
