package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/cuemby/orchestrator-core/pkg/types"
)

// PostgresStore implements Store against a PostgreSQL database via
// jackc/pgx/v5's database/sql driver, with jmoiron/sqlx for
// struct-scanned queries.
type PostgresStore struct {
	db *sqlx.DB
}

// Open connects to dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, NewError("storage.Open", KindUnavailable, err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewError("storage.Ping", KindUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// classify maps a driver-level error to a storage Kind. pgx connection
// errors and serialization failures (40001 serialization_failure,
// 40P01 deadlock_detected) are TransientBackend; everything else not
// already recognized is Internal.
func classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, sql.ErrNoRows) {
		return KindNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return KindTransientBackend
		case "23505", "23503", "23514":
			return KindConstraintViolation
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return KindTransientBackend
	}
	return KindInternal
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, classify(err), err)
}

// withRetry runs fn, retrying TransientBackend failures per
// DefaultStoreBackoff.
func withRetry(ctx context.Context, fn func() error) error {
	return Retry(ctx, DefaultStoreBackoff, func(err error) bool {
		var se *Error
		return errors.As(err, &se) && se.Kind == KindTransientBackend
	}, fn)
}

// --- row types -------------------------------------------------------

type jobRow struct {
	ID               string         `db:"id"`
	Description      string         `db:"description"`
	ConfigName       string         `db:"config_name"`
	UploadID         sql.NullString `db:"upload_id"`
	Context          string         `db:"context"`
	Instructions     string         `db:"instructions"`
	Status           string         `db:"status"`
	CreatorStatus    string         `db:"creator_status"`
	ValidatorStatus  string         `db:"validator_status"`
	AssignedAgentID  sql.NullString `db:"assigned_agent_id"`
	DispatchAttempts int            `db:"dispatch_attempts"`
	FrozenData       []byte         `db:"frozen_data"`
	ErrorMessage     sql.NullString `db:"error_message"`
	ErrorDetails     []byte         `db:"error_details"`
	TokensUsed       int64          `db:"tokens_used"`
	RequestCount     int            `db:"request_count"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
}

func (r jobRow) toJob() *types.Job {
	j := &types.Job{
		ID:               r.ID,
		Description:      r.Description,
		ConfigName:       r.ConfigName,
		UploadID:         r.UploadID.String,
		Context:          r.Context,
		Instructions:     r.Instructions,
		Status:           types.JobStatus(r.Status),
		CreatorStatus:    types.RoleStatus(r.CreatorStatus),
		ValidatorStatus:  types.RoleStatus(r.ValidatorStatus),
		AssignedAgentID:  r.AssignedAgentID.String,
		DispatchAttempts: r.DispatchAttempts,
		FrozenData:       json.RawMessage(r.FrozenData),
		ErrorMessage:     r.ErrorMessage.String,
		ErrorDetails:     json.RawMessage(r.ErrorDetails),
		TokensUsed:       r.TokensUsed,
		RequestCount:     r.RequestCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		j.CompletedAt = &t
	}
	return j
}

type agentRow struct {
	ID            string         `db:"id"`
	ConfigName    string         `db:"config_name"`
	Hostname      string         `db:"hostname"`
	PodIP         string         `db:"pod_ip"`
	Port          int            `db:"port"`
	Status        string         `db:"status"`
	CurrentJobID  sql.NullString `db:"current_job_id"`
	Metadata      []byte         `db:"metadata"`
	RegisteredAt  time.Time      `db:"registered_at"`
	LastHeartbeat time.Time      `db:"last_heartbeat"`
}

func (r agentRow) toAgent() *types.Agent {
	a := &types.Agent{
		ID:            r.ID,
		ConfigName:    r.ConfigName,
		Hostname:      r.Hostname,
		PodIP:         r.PodIP,
		Port:          r.Port,
		Status:        types.AgentStatus(r.Status),
		CurrentJobID:  r.CurrentJobID.String,
		RegisteredAt:  r.RegisteredAt,
		LastHeartbeat: r.LastHeartbeat,
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &a.Metadata)
	}
	return a
}

// --- jobs -------------------------------------------------------------

func (s *PostgresStore) CreateJob(ctx context.Context, job *types.Job) error {
	const q = `
		INSERT INTO jobs (id, description, config_name, upload_id, context, instructions, status,
			creator_status, validator_status, dispatch_attempts, frozen_data, error_details,
			tokens_used, request_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,'{}','{}',0,0, now(), now())
		RETURNING created_at, updated_at`
	return withRetry(ctx, func() error {
		row := s.db.QueryRowxContext(ctx, q, job.ID, job.Description, job.ConfigName,
			nullableString(job.UploadID), job.Context, job.Instructions,
			job.Status, job.CreatorStatus, job.ValidatorStatus)
		err := row.Scan(&job.CreatedAt, &job.UpdatedAt)
		return wrap("jobs.Create", err)
	})
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var row jobRow
	err := withRetry(ctx, func() error {
		return s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, id)
	})
	if err != nil {
		return nil, wrap("jobs.Get", err)
	}
	return row.toJob(), nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*types.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var rows []jobRow
	var err error
	if filter.Status != "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			filter.Status, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, wrap("jobs.List", err)
	}
	out := make([]*types.Job, len(rows))
	for i, r := range rows {
		out[i] = r.toJob()
	}
	return out, nil
}

// UpdateJobStatus performs a compare-and-swap on the job's status,
// applying mutate to the in-memory row before writing every mutable
// column back. A from/to mismatch surfaces as KindConflictingState.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, from, to types.JobStatus, mutate func(*types.Job)) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return wrap("jobs.UpdateStatus", err)
		}
		defer tx.Rollback()

		var row jobRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1 FOR UPDATE`, jobID); err != nil {
			return wrap("jobs.UpdateStatus", err)
		}
		if row.Status != string(from) {
			return NewError("jobs.UpdateStatus", KindConflictingState,
				fmt.Errorf("job %s is %s, expected %s", jobID, row.Status, from))
		}
		job := row.toJob()
		job.Status = to
		if mutate != nil {
			mutate(job)
		}

		frozen := job.FrozenData
		if frozen == nil {
			frozen = json.RawMessage("{}")
		}
		details := job.ErrorDetails
		if details == nil {
			details = json.RawMessage("{}")
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status=$1, creator_status=$2, validator_status=$3,
				assigned_agent_id=$4, dispatch_attempts=$5, frozen_data=$6,
				error_message=$7, error_details=$8, tokens_used=$9, request_count=$10,
				completed_at=$11, updated_at=now()
			WHERE id=$12`,
			job.Status, job.CreatorStatus, job.ValidatorStatus,
			nullableString(job.AssignedAgentID), job.DispatchAttempts, []byte(frozen),
			nullableString(job.ErrorMessage), []byte(details), job.TokensUsed, job.RequestCount,
			nullableTime(job.CompletedAt), jobID)
		if err != nil {
			return wrap("jobs.UpdateStatus", err)
		}
		return wrap("jobs.UpdateStatus", tx.Commit())
	})
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM jobs WHERE id=$1 AND status IN ('completed','failed','cancelled')`, id)
		if err != nil {
			return wrap("jobs.Delete", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return NewError("jobs.Delete", KindConflictingState, fmt.Errorf("job %s not in a terminal state", id))
		}
		return nil
	})
}

func (s *PostgresStore) AttachAgent(ctx context.Context, jobID, agentID string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET assigned_agent_id=$1, updated_at=now() WHERE id=$2`, agentID, jobID)
		return wrap("jobs.AttachAgent", err)
	})
}

func (s *PostgresStore) DetachAgent(ctx context.Context, jobID string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET assigned_agent_id=NULL, updated_at=now() WHERE id=$1`, jobID)
		return wrap("jobs.DetachAgent", err)
	})
}

// --- dispatch claim -----------------------------------------------------

type sqlxTx struct {
	tx *sqlx.Tx
}

func (t *sqlxTx) ClaimReadyAgent(ctx context.Context, configName string) (*types.Agent, error) {
	var row agentRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT * FROM agents
		WHERE status='ready' AND config_name=$1 AND current_job_id IS NULL
		ORDER BY last_heartbeat DESC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, configName)
	if err != nil {
		return nil, wrap("dispatch.ClaimReadyAgent", err)
	}
	return row.toAgent(), nil
}

func (t *sqlxTx) AssignJob(ctx context.Context, jobID, agentID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE jobs SET status='processing', assigned_agent_id=$1, updated_at=now() WHERE id=$2`,
		agentID, jobID)
	return wrap("dispatch.AssignJob", err)
}

func (t *sqlxTx) MarkAgentWorking(ctx context.Context, agentID, jobID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE agents SET status='working', current_job_id=$1 WHERE id=$2`, jobID, agentID)
	return wrap("dispatch.MarkAgentWorking", err)
}

// ClaimJobsForDispatch selects up to limit created jobs with
// FOR UPDATE SKIP LOCKED, ordered created_at then id, and hands them to
// fn inside the same transaction used for the per-job agent claim.
func (s *PostgresStore) ClaimJobsForDispatch(ctx context.Context, limit int, fn func(tx Tx, jobs []*types.Job) error) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return wrap("dispatch.Claim", err)
		}
		defer tx.Rollback()

		var rows []jobRow
		if err := tx.SelectContext(ctx, &rows, `
			SELECT * FROM jobs
			WHERE status='created'
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1`, limit); err != nil {
			return wrap("dispatch.Claim", err)
		}
		jobs := make([]*types.Job, len(rows))
		for i, r := range rows {
			jobs[i] = r.toJob()
		}
		if err := fn(&sqlxTx{tx: tx}, jobs); err != nil {
			return err
		}
		return wrap("dispatch.Claim", tx.Commit())
	})
}

// --- agents -------------------------------------------------------------

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *types.Agent) error {
	meta, _ := json.Marshal(agent.Metadata)
	return withRetry(ctx, func() error {
		row := s.db.QueryRowxContext(ctx, `
			INSERT INTO agents (id, config_name, hostname, pod_ip, port, status, metadata, registered_at, last_heartbeat)
			VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
			RETURNING registered_at, last_heartbeat`,
			agent.ID, agent.ConfigName, agent.Hostname, agent.PodIP, agent.Port, agent.Status, meta)
		err := row.Scan(&agent.RegisteredAt, &agent.LastHeartbeat)
		return wrap("agents.Create", err)
	})
}

func (s *PostgresStore) FindAgentByAddress(ctx context.Context, hostname, podIP string, port int) (*types.Agent, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM agents WHERE hostname=$1 AND pod_ip=$2 AND port=$3`, hostname, podIP, port)
	if err != nil {
		return nil, wrap("agents.FindByAddress", err)
	}
	return row.toAgent(), nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM agents WHERE id=$1`, id)
	if err != nil {
		return nil, wrap("agents.Get", err)
	}
	return row.toAgent(), nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*types.Agent, error) {
	q := `SELECT * FROM agents WHERE 1=1`
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.ConfigName != "" {
		args = append(args, filter.ConfigName)
		q += fmt.Sprintf(" AND config_name=$%d", len(args))
	}
	q += " ORDER BY last_heartbeat DESC"
	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, wrap("agents.List", err)
	}
	out := make([]*types.Agent, len(rows))
	for i, r := range rows {
		out[i] = r.toAgent()
	}
	return out, nil
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *types.Agent) error {
	meta, _ := json.Marshal(agent.Metadata)
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE agents SET config_name=$1, hostname=$2, pod_ip=$3, port=$4, status=$5,
				current_job_id=$6, metadata=$7
			WHERE id=$8`,
			agent.ConfigName, agent.Hostname, agent.PodIP, agent.Port, agent.Status,
			nullableString(agent.CurrentJobID), meta, agent.ID)
		return wrap("agents.Update", err)
	})
}

func (s *PostgresStore) Heartbeat(ctx context.Context, agentID string, status types.AgentStatus, currentJobID *string) error {
	return withRetry(ctx, func() error {
		var err error
		if currentJobID != nil {
			_, err = s.db.ExecContext(ctx, `
				UPDATE agents SET last_heartbeat=now(), status=$1, current_job_id=$2
				WHERE id=$3 AND status <> 'offline'`, status, *currentJobID, agentID)
		} else {
			_, err = s.db.ExecContext(ctx, `
				UPDATE agents SET last_heartbeat=now(), status=$1
				WHERE id=$2 AND status <> 'offline'`, status, agentID)
		}
		return wrap("agents.Heartbeat", err)
	})
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM agents WHERE id=$1 AND status IN ('offline','failed','completed')`, id)
		if err != nil {
			return wrap("agents.Delete", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return NewError("agents.Delete", KindConflictingState, fmt.Errorf("agent %s not removable in current state", id))
		}
		return nil
	})
}

// --- requirements ---------------------------------------------------------

func (s *PostgresStore) CreateRequirement(ctx context.Context, req *types.Requirement) error {
	return withRetry(ctx, func() error {
		row := s.db.QueryRowxContext(ctx, `
			INSERT INTO requirements (id, job_id, graph_node_id, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,now(),now()) RETURNING created_at, updated_at`,
			req.ID, req.JobID, req.GraphNodeID, req.Status)
		return wrap("requirements.Create", row.Scan(&req.CreatedAt, &req.UpdatedAt))
	})
}

func (s *PostgresStore) UpdateRequirementStatus(ctx context.Context, id string, status types.RequirementStatus) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE requirements SET status=$1, updated_at=now() WHERE id=$2`, status, id)
		return wrap("requirements.UpdateStatus", err)
	})
}

func (s *PostgresStore) ListRequirementsByJob(ctx context.Context, jobID string) ([]*types.Requirement, error) {
	var rows []struct {
		ID          string    `db:"id"`
		JobID       string    `db:"job_id"`
		GraphNodeID string    `db:"graph_node_id"`
		Status      string    `db:"status"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM requirements WHERE job_id=$1`, jobID); err != nil {
		return nil, wrap("requirements.ListByJob", err)
	}
	out := make([]*types.Requirement, len(rows))
	for i, r := range rows {
		out[i] = &types.Requirement{ID: r.ID, JobID: r.JobID, GraphNodeID: r.GraphNodeID,
			Status: types.RequirementStatus(r.Status), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

func (s *PostgresStore) CountRequirementsByJob(ctx context.Context, jobID string) (RequirementCounts, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) as count FROM requirements WHERE job_id=$1 GROUP BY status`, jobID)
	if err != nil {
		return RequirementCounts{}, wrap("requirements.CountByJob", err)
	}
	var c RequirementCounts
	for _, r := range rows {
		switch types.RequirementStatus(r.Status) {
		case types.RequirementStatusPending:
			c.Pending = r.Count
		case types.RequirementStatusValidating:
			c.Validating = r.Count
		case types.RequirementStatusIntegrated:
			c.Integrated = r.Count
		case types.RequirementStatusRejected:
			c.Rejected = r.Count
		case types.RequirementStatusFailed:
			c.Failed = r.Count
		}
	}
	return c, nil
}

// --- sources & citations -----------------------------------------------

func (s *PostgresStore) CreateSource(ctx context.Context, src *types.Source) error {
	return withRetry(ctx, func() error {
		row := s.db.QueryRowxContext(ctx, `
			INSERT INTO sources (id, job_id, uri, title, created_at)
			VALUES ($1,$2,$3,$4,now()) RETURNING created_at`, src.ID, src.JobID, src.URI, src.Title)
		return wrap("sources.Create", row.Scan(&src.CreatedAt))
	})
}

func (s *PostgresStore) CreateCitation(ctx context.Context, cit *types.Citation) error {
	return withRetry(ctx, func() error {
		row := s.db.QueryRowxContext(ctx, `
			INSERT INTO citations (id, job_id, source_id, locator, created_at)
			VALUES ($1,$2,$3,$4,now()) RETURNING created_at`,
			cit.ID, cit.JobID, cit.SourceID, cit.Locator)
		return wrap("citations.Create", row.Scan(&cit.CreatedAt))
	})
}

func (s *PostgresStore) ListSourcesByJob(ctx context.Context, jobID string) ([]*types.Source, error) {
	var rows []types.Source
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, job_id, uri, title, created_at FROM sources WHERE job_id=$1`, jobID); err != nil {
		return nil, wrap("sources.ListByJob", err)
	}
	out := make([]*types.Source, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func (s *PostgresStore) ListCitationsByJob(ctx context.Context, jobID string) ([]*types.Citation, error) {
	var rows []types.Citation
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, job_id, source_id, locator, created_at FROM citations WHERE job_id=$1`, jobID); err != nil {
		return nil, wrap("citations.ListByJob", err)
	}
	out := make([]*types.Citation, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// --- upload bundles -------------------------------------------------------

func (s *PostgresStore) CreateUploadBundle(ctx context.Context, bundle *types.UploadBundle) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return wrap("uploads.Create", err)
		}
		defer tx.Rollback()
		row := tx.QueryRowxContext(ctx,
			`INSERT INTO upload_bundles (id, created_at) VALUES ($1, now()) RETURNING created_at`, bundle.ID)
		if err := row.Scan(&bundle.CreatedAt); err != nil {
			return wrap("uploads.Create", err)
		}
		for _, f := range bundle.Files {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO upload_files (upload_id, name, size, mime_type) VALUES ($1,$2,$3,$4)`,
				bundle.ID, f.Name, f.Size, f.MimeType); err != nil {
				return wrap("uploads.Create", err)
			}
		}
		return wrap("uploads.Create", tx.Commit())
	})
}

func (s *PostgresStore) GetUploadBundle(ctx context.Context, id string) (*types.UploadBundle, error) {
	var bundle types.UploadBundle
	bundle.ID = id
	err := s.db.GetContext(ctx, &bundle.CreatedAt, `SELECT created_at FROM upload_bundles WHERE id=$1`, id)
	if err != nil {
		return nil, wrap("uploads.Get", err)
	}
	var files []types.UploadFile
	if err := s.db.SelectContext(ctx, &files,
		`SELECT name, size, mime_type FROM upload_files WHERE upload_id=$1`, id); err != nil {
		return nil, wrap("uploads.Get", err)
	}
	bundle.Files = files
	return &bundle, nil
}

// --- agent config catalog -----------------------------------------------

func (s *PostgresStore) UpsertAgentConfig(ctx context.Context, spec *types.AgentConfigSpec) error {
	env, _ := json.Marshal(spec.Env)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_configs (name, image, cpu_request, memory_request, cpu_limit, memory_limit, capabilities, env)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (name) DO UPDATE SET image=$2, cpu_request=$3, memory_request=$4,
			cpu_limit=$5, memory_limit=$6, capabilities=$7, env=$8`,
		spec.Name, spec.Image, spec.CPURequest, spec.MemoryRequest, spec.CPULimit, spec.MemoryLimit,
		pqStringArray(spec.Capabilities), env)
	return wrap("agentconfigs.Upsert", err)
}

func (s *PostgresStore) GetAgentConfig(ctx context.Context, name string) (*types.AgentConfigSpec, error) {
	var row struct {
		Name          string   `db:"name"`
		Image         string   `db:"image"`
		CPURequest    string   `db:"cpu_request"`
		MemoryRequest string   `db:"memory_request"`
		CPULimit      string   `db:"cpu_limit"`
		MemoryLimit   string   `db:"memory_limit"`
		Capabilities  []string `db:"capabilities"`
		Env           []byte   `db:"env"`
	}
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM agent_configs WHERE name=$1`, name); err != nil {
		return nil, wrap("agentconfigs.Get", err)
	}
	spec := &types.AgentConfigSpec{
		Name: row.Name, Image: row.Image, CPURequest: row.CPURequest,
		MemoryRequest: row.MemoryRequest, CPULimit: row.CPULimit, MemoryLimit: row.MemoryLimit,
		Capabilities: row.Capabilities,
	}
	_ = json.Unmarshal(row.Env, &spec.Env)
	return spec, nil
}

func (s *PostgresStore) ListAgentConfigs(ctx context.Context) ([]*types.AgentConfigSpec, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, `SELECT name FROM agent_configs ORDER BY name`); err != nil {
		return nil, wrap("agentconfigs.List", err)
	}
	out := make([]*types.AgentConfigSpec, 0, len(names))
	for _, n := range names {
		spec, err := s.GetAgentConfig(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// --- audit ----------------------------------------------------------------

func (s *PostgresStore) RecordAuditEvent(ctx context.Context, ev AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (job_id, agent_id, event_type, payload, created_at)
		VALUES ($1,$2,$3,$4,now())`,
		nullableString(ev.JobID), nullableString(ev.AgentID), ev.EventType, ev.Payload)
	return wrap("audit.Record", err)
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, jobID string, limit, offset int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []struct {
		ID        int64     `db:"id"`
		JobID     sql.NullString `db:"job_id"`
		AgentID   sql.NullString `db:"agent_id"`
		EventType string    `db:"event_type"`
		Payload   []byte    `db:"payload"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, job_id, agent_id, event_type, payload, created_at
		FROM audit_events WHERE job_id=$1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, jobID, limit, offset)
	if err != nil {
		return nil, wrap("audit.List", err)
	}
	out := make([]AuditEvent, len(rows))
	for i, r := range rows {
		out[i] = AuditEvent{ID: r.ID, JobID: r.JobID.String, AgentID: r.AgentID.String,
			EventType: r.EventType, Payload: r.Payload, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// --- statistics -------------------------------------------------------

func (s *PostgresStore) JobStatusCounts(ctx context.Context) (map[types.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) as count FROM jobs GROUP BY status`); err != nil {
		return nil, wrap("statistics.JobStatusCounts", err)
	}
	out := make(map[types.JobStatus]int, len(rows))
	for _, r := range rows {
		out[types.JobStatus(r.Status)] = r.Count
	}
	return out, nil
}

func (s *PostgresStore) AgentStatusCounts(ctx context.Context) (map[types.AgentStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) as count FROM agents GROUP BY status`); err != nil {
		return nil, wrap("statistics.AgentStatusCounts", err)
	}
	out := make(map[types.AgentStatus]int, len(rows))
	for _, r := range rows {
		out[types.AgentStatus(r.Status)] = r.Count
	}
	return out, nil
}

func (s *PostgresStore) DailyJobCounts(ctx context.Context, days int) (map[string]int, error) {
	var rows []struct {
		Day   string `db:"day"`
		Count int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT to_char(date_trunc('day', created_at), 'YYYY-MM-DD') as day, COUNT(*) as count
		FROM jobs
		WHERE created_at >= now() - ($1 || ' days')::interval
		GROUP BY day ORDER BY day`, days)
	if err != nil {
		return nil, wrap("statistics.DailyJobCounts", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Day] = r.Count
	}
	return out, nil
}

func (s *PostgresStore) StuckJobs(ctx context.Context, staleThresholdSeconds int64) ([]*types.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM jobs
		WHERE status IN ('processing','created') AND updated_at < now() - ($1 || ' seconds')::interval
		ORDER BY updated_at ASC`, staleThresholdSeconds)
	if err != nil {
		return nil, wrap("statistics.StuckJobs", err)
	}
	out := make([]*types.Job, len(rows))
	for i, r := range rows {
		out[i] = r.toJob()
	}
	return out, nil
}

// --- helpers -------------------------------------------------------------

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func pqStringArray(ss []string) interface{} {
	if ss == nil {
		return []string{}
	}
	return ss
}
