package deploypg

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/k11v/staticdeploy/internal/deploy"
)

type row struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	RepositoryURL string    `db:"repository_url"`
	Branch        string    `db:"branch"`
	Status        string    `db:"status"`
	Progress      int       `db:"progress"`
	Error         string    `db:"error"`
	ErrorKind     string    `db:"error_kind"`
	Result        []byte    `db:"result"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func rowToDeployment(collectableRow pgx.CollectableRow) (*Deployment, error) {
	collectedRow, err := pgx.RowToStructByName[row](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to deployment: %w", err)
	}

	status := Status(collectedRow.Status)
	switch status {
	case StatusQueued, StatusRunning, StatusDone, StatusFailed:
	default:
		slog.Default().Warn(
			"unknown status encountered while reading deployment",
			"status", collectedRow.Status,
			"deployment_id", collectedRow.ID,
		)
	}

	var result *deploy.Result
	if len(collectedRow.Result) > 0 {
		result = new(deploy.Result)
		if err = json.Unmarshal(collectedRow.Result, result); err != nil {
			return nil, fmt.Errorf("row to deployment: %w", err)
		}
	}

	return &Deployment{
		ID:            collectedRow.ID,
		Name:          collectedRow.Name,
		RepositoryURL: collectedRow.RepositoryURL,
		Branch:        collectedRow.Branch,
		Status:        status,
		Progress:      collectedRow.Progress,
		Error:         collectedRow.Error,
		ErrorKind:     collectedRow.ErrorKind,
		Result:        result,
		CreatedAt:     collectedRow.CreatedAt,
		UpdatedAt:     collectedRow.UpdatedAt,
	}, nil
}
