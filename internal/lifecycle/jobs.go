package lifecycle

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/robinclaw/robinclaw/internal/ledger"
	"github.com/robinclaw/robinclaw/internal/metrics"
)

const (
	JobFillsSync = "fills_sync"

	fillsCursorKey = "fills_cursor_ms"
	fillsPageLimit = 2000
	syncWorkers    = 4

	// fillNudgeDelay batches the fills of a burst of orders into one sync.
	fillNudgeDelay = 3 * time.Second
)

// StartBackground runs the scheduled fill sync until Stop. interval <= 0 disables it.
func (m *Manager) StartBackground(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	m.bgCancel = cancel
	if interval <= 0 {
		return
	}
	m.bgWG.Add(1)
	go func() {
		defer m.bgWG.Done()
		m.fillSyncLoop(ctx, interval)
	}()
}

// Stop ends the scheduler and waits for running jobs.
func (m *Manager) Stop() {
	if m.bgCancel != nil {
		m.bgCancel()
		m.bgWG.Wait()
	}
	m.jobWG.Wait()
}

func (m *Manager) fillSyncLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	var nudged <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.scheduleFillSync("scheduled")
		case <-m.fillNudge.C():
			if nudged == nil {
				nudged = time.After(fillNudgeDelay)
			}
		case <-nudged:
			nudged = nil
			m.scheduleFillSync("fill")
		}
	}
}

func (m *Manager) scheduleFillSync(trigger string) {
	if _, err := m.StartFillSync(trigger); err != nil {
		m.log.Warnf("schedule fill sync: %v", err)
	}
}

// StartFillSync records a job run and syncs fills asynchronously.
func (m *Manager) StartFillSync(trigger string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	meta, _ := json.Marshal(map[string]any{"trigger": trigger})
	metaStr := string(meta)
	runID, err := m.store.InsertJobRunStart(ctx, JobFillsSync, "batch", nil, &metaStr)
	if err != nil {
		return 0, err
	}
	m.jobWG.Add(1)
	go func() {
		defer m.jobWG.Done()
		jobCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		m.doFillSync(jobCtx, runID, trigger)
	}()
	return runID, nil
}

func (m *Manager) doFillSync(ctx context.Context, runID int64, trigger string) {
	metrics.FillSyncRuns.Add(1)
	res, err := m.SyncFills(ctx)
	if err != nil {
		metrics.FillSyncErrors.Add(1)
		msg := err.Error()
		_ = m.store.FinishJobRun(ctx, runID, false, &msg, nil)
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"trigger":  trigger,
		"agents":   res.Agents,
		"ok":       res.OK,
		"err":      res.Failed,
		"recorded": res.Recorded,
	})
	metaStr := string(meta)
	var errMsg *string
	if res.Failed > 0 {
		metrics.FillSyncErrors.Add(1)
		msg := "some agents failed"
		errMsg = &msg
	}
	_ = m.store.FinishJobRun(ctx, runID, res.Failed == 0, errMsg, &metaStr)
}

type FillSyncResult struct {
	Agents   int `json:"agents"`
	OK       int `json:"ok"`
	Failed   int `json:"failed"`
	Recorded int `json:"recorded"`
}

// SyncFills copies new venue fills of every active agent into the trade ledger. Fills
// are keyed by their venue id, so overlapping pages are harmless.
func (m *Manager) SyncFills(ctx context.Context) (FillSyncResult, error) {
	agents, err := m.store.ListActiveAgents(ctx)
	if err != nil {
		return FillSyncResult{}, err
	}
	res := FillSyncResult{Agents: len(agents)}

	type agentResult struct {
		recorded int
		err      error
	}
	outCh := make(chan agentResult, len(agents))
	sem := make(chan struct{}, syncWorkers)
	var wg sync.WaitGroup
	for i := range agents {
		a := agents[i]
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() { <-sem; wg.Done() }()
			agentCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			n, err := m.syncAgentFills(agentCtx, &a)
			outCh <- agentResult{recorded: n, err: err}
		}()
	}
	wg.Wait()
	close(outCh)

	for r := range outCh {
		if r.err != nil {
			res.Failed++
			continue
		}
		res.OK++
		res.Recorded += r.recorded
	}
	return res, nil
}

func (m *Manager) syncAgentFills(ctx context.Context, agent *ledger.Agent) (int, error) {
	log := m.log.WithField("agent", agent.Name)
	t, err := m.trader(agent)
	if err != nil {
		return 0, err
	}
	fills, err := t.GetFills(ctx, fillsPageLimit)
	if err != nil {
		log.Warnf("fill sync: %v", err)
		return 0, err
	}

	var cursor int64
	if v, ok, err := m.store.GetSyncState(ctx, agent.ID, fillsCursorKey); err != nil {
		return 0, err
	} else if ok {
		cursor, _ = strconv.ParseInt(v, 10, 64)
	}

	recorded := 0
	latest := cursor
	for _, f := range fills {
		ms := f.Time.UnixMilli()
		if ms < cursor {
			continue
		}
		id := f.ID
		inserted, err := m.store.RecordTrade(ctx, &ledger.Trade{
			AgentID:     agent.ID,
			Symbol:      f.Symbol,
			Side:        string(f.Side),
			Size:        f.Size,
			Price:       f.Price,
			RealizedPnL: f.RealizedPnL,
			Timestamp:   f.Time,
			FillID:      &id,
		})
		if err != nil {
			log.Errorf("record fill %s: %v", f.ID, err)
			return recorded, err
		}
		if inserted {
			recorded++
		}
		if ms > latest {
			latest = ms
		}
	}
	if latest > cursor {
		if err := m.store.SetSyncState(ctx, agent.ID, fillsCursorKey, strconv.FormatInt(latest, 10)); err != nil {
			return recorded, err
		}
	}
	metrics.FillsRecorded.Add(int64(recorded))
	if recorded > 0 {
		log.Infof("fill sync: recorded %d trades", recorded)
	}
	return recorded, nil
}
