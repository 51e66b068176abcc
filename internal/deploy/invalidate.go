package deploy

import (
	"context"
	"fmt"
	"time"
)

// InvalidatorInvalidateParams describes one CDN invalidation batch.
type InvalidatorInvalidateParams struct {
	DistributionID  string   // required
	Paths           []string // required
	CallerReference string   // required, unique per call
}

// Invalidator asks a CDN to drop cached copies of paths.
type Invalidator interface {
	Invalidate(ctx context.Context, params *InvalidatorInvalidateParams) error
}

// InvalidationPaths returns the CDN paths covering deploymentID.
func InvalidationPaths(deploymentID string) []string {
	return []string{
		"/" + deploymentID + "/*",
		"/" + deploymentID + "/index.html",
	}
}

// callerReference is unique per call so a retried request never collides
// with a batch still in flight.
func callerReference(deploymentID string, now time.Time) string {
	return fmt.Sprintf("%s-%d", deploymentID, now.UnixNano())
}
