package deploypg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/k11v/staticdeploy/internal/deploy"
	"github.com/k11v/staticdeploy/internal/pgutil"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Status is the lifecycle state of a stored deployment.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Deployment struct {
	ID            string
	Name          string
	RepositoryURL string
	Branch        string
	Status        Status
	Progress      int
	Error         string
	ErrorKind     string
	Result        *deploy.Result
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store records deployment state and logs.
type Store struct {
	db Querier // required
}

func NewStore(db Querier) *Store {
	return &Store{db: db}
}

type StoreCreateParams struct {
	ID            string // required
	Name          string
	RepositoryURL string // required
	Branch        string
}

// Create inserts a queued deployment. It returns ErrAlreadyExists if the ID
// is taken.
func (s *Store) Create(ctx context.Context, params *StoreCreateParams) (*Deployment, error) {
	query := `
		INSERT INTO deployments (id, name, repository_url, branch, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING
			id, name, repository_url, branch,
			status, progress, error, error_kind, result,
			created_at, updated_at
	`
	args := []any{params.ID, params.Name, params.RepositoryURL, branchOrDefault(params.Branch), StatusQueued}

	rows, _ := s.db.Query(ctx, query, args...)
	d, err := pgx.CollectExactlyOneRow(rows, rowToDeployment)
	if pgutil.IsUniqueViolation(err) {
		return nil, fmt.Errorf("deploypg.Store: %w", ErrAlreadyExists)
	} else if err != nil {
		return nil, fmt.Errorf("deploypg.Store: create: %w", err)
	}

	return d, nil
}

// Start marks the deployment running, creating it if it was never queued.
// Progress, error and result from an earlier attempt are reset.
func (s *Store) Start(ctx context.Context, input *deploy.Input) error {
	query := `
		INSERT INTO deployments (id, name, repository_url, branch, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			progress = 0,
			error = '',
			error_kind = '',
			result = NULL,
			updated_at = now()
	`
	args := []any{input.DeploymentID, input.Name, input.RepositoryURL, branchOrDefault(input.Branch), StatusRunning}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("deploypg.Store: start: %w", err)
	}
	return nil
}

// SetProgress raises the stored progress of a running deployment.
// Lower values are ignored.
func (s *Store) SetProgress(ctx context.Context, id string, percent int) error {
	query := `
		UPDATE deployments
		SET progress = GREATEST(progress, $2), updated_at = now()
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, id, min(max(percent, 0), 100))
	if err != nil {
		return fmt.Errorf("deploypg.Store: set progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deploypg.Store: set progress: %w", ErrNotFound)
	}
	return nil
}

// AppendLog adds one line to the deployment's log.
func (s *Store) AppendLog(ctx context.Context, id string, line string) error {
	query := `
		INSERT INTO deployment_logs (deployment_id, line)
		VALUES ($1, $2)
	`
	if _, err := s.db.Exec(ctx, query, id, line); err != nil {
		return fmt.Errorf("deploypg.Store: append log: %w", err)
	}
	return nil
}

// Complete marks the deployment done and stores its result.
func (s *Store) Complete(ctx context.Context, id string, result *deploy.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("deploypg.Store: complete: %w", err)
	}

	query := `
		UPDATE deployments
		SET status = $2, progress = 100, result = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, id, StatusDone, data)
	if err != nil {
		return fmt.Errorf("deploypg.Store: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deploypg.Store: complete: %w", ErrNotFound)
	}
	return nil
}

// Fail marks the deployment failed with the error message and its kind.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	query := `
		UPDATE deployments
		SET status = $2, error = $3, error_kind = $4, updated_at = now()
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, id, StatusFailed, cause.Error(), deploy.KindOf(cause))
	if err != nil {
		return fmt.Errorf("deploypg.Store: fail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deploypg.Store: fail: %w", ErrNotFound)
	}
	return nil
}

// Get returns the deployment with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Deployment, error) {
	query := `
		SELECT
			id, name, repository_url, branch,
			status, progress, error, error_kind, result,
			created_at, updated_at
		FROM deployments
		WHERE id = $1
	`

	rows, _ := s.db.Query(ctx, query, id)
	d, err := pgx.CollectExactlyOneRow(rows, rowToDeployment)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deploypg.Store: %w", ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("deploypg.Store: get: %w", err)
	}

	return d, nil
}

// Logs returns the deployment's log lines in insertion order.
func (s *Store) Logs(ctx context.Context, id string) ([]string, error) {
	query := `
		SELECT line
		FROM deployment_logs
		WHERE deployment_id = $1
		ORDER BY id ASC
	`

	rows, _ := s.db.Query(ctx, query, id)
	lines, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("deploypg.Store: logs: %w", err)
	}
	return lines, nil
}

func branchOrDefault(branch string) string {
	if branch == "" {
		return deploy.DefaultBranch
	}
	return branch
}
