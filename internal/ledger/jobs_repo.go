package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/robinclaw/robinclaw/internal/apperr"
)

func (s *Store) InsertJobRunStart(ctx context.Context, jobName string, scope string, agentID *string, metaJSON *string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO job_runs (job_name, scope, agent_id, started_at, meta_json)
VALUES (?,?,?,?,?)
`, jobName, scope, agentID, formatTime(time.Now()), metaJSON)
	if err != nil {
		return 0, classify(err, "insert job run")
	}
	return res.LastInsertId()
}

func (s *Store) FinishJobRun(ctx context.Context, runID int64, ok bool, errMsg *string, metaJSON *string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE job_runs
SET finished_at=?, ok=?, error=?, meta_json=COALESCE(?, meta_json)
WHERE id=?
`, formatTime(time.Now()), boolToInt(ok), errMsg, metaJSON, runID)
	return classify(err, "finish job run")
}

func (s *Store) ListJobRuns(ctx context.Context, limit int) ([]JobRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, job_name, scope, agent_id, started_at, finished_at, ok, error, meta_json
FROM job_runs
ORDER BY started_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, classify(err, "list job runs")
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		j, err := scanJobRun(rows)
		if err != nil {
			return nil, classify(err, "scan job run")
		}
		out = append(out, *j)
	}
	return out, classify(rows.Err(), "list job runs")
}

func (s *Store) GetJobRun(ctx context.Context, runID int64) (*JobRun, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, job_name, scope, agent_id, started_at, finished_at, ok, error, meta_json
FROM job_runs
WHERE id=?
`, runID)
	j, err := scanJobRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("job run %d not found", runID)
		}
		return nil, classify(err, "get job run")
	}
	return j, nil
}

func scanJobRun(row rowScanner) (*JobRun, error) {
	var (
		j          JobRun
		agentID    sql.NullString
		startedAt  string
		finishedAt sql.NullString
		okVal      sql.NullInt64
		errStr     sql.NullString
		meta       sql.NullString
	)
	if err := row.Scan(&j.ID, &j.JobName, &j.Scope, &agentID, &startedAt, &finishedAt, &okVal, &errStr, &meta); err != nil {
		return nil, err
	}
	if agentID.Valid {
		v := agentID.String
		j.AgentID = &v
	}
	j.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		j.FinishedAt = &t
	}
	if okVal.Valid {
		v := okVal.Int64 != 0
		j.OK = &v
	}
	if errStr.Valid {
		v := errStr.String
		j.Error = &v
	}
	if meta.Valid {
		v := meta.String
		j.MetaJSON = &v
	}
	return &j, nil
}
