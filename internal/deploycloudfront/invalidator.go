package deploycloudfront

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/k11v/staticdeploy/internal/deploy"
)

// NewClient creates a CloudFront client from the default AWS credential chain.
func NewClient(ctx context.Context, region string) (*cloudfront.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("deploycloudfront.NewClient: %w", err)
	}
	return cloudfront.NewFromConfig(cfg), nil
}

var _ deploy.Invalidator = (*Invalidator)(nil)

// Invalidator submits invalidation batches without waiting for them to complete.
type Invalidator struct {
	client *cloudfront.Client
	log    *slog.Logger
}

func NewInvalidator(client *cloudfront.Client, log *slog.Logger) *Invalidator {
	if log == nil {
		log = slog.Default()
	}
	return &Invalidator{client: client, log: log}
}

// Invalidate implements deploy.Invalidator.
func (i *Invalidator) Invalidate(ctx context.Context, params *deploy.InvalidatorInvalidateParams) error {
	out, err := i.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(params.DistributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(params.CallerReference),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(params.Paths))),
				Items:    params.Paths,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deploycloudfront.Invalidator: %w", err)
	}

	if out.Invalidation != nil {
		i.log.Info(
			"created invalidation",
			"distribution_id", params.DistributionID,
			"invalidation_id", aws.ToString(out.Invalidation.Id),
			"status", aws.ToString(out.Invalidation.Status),
		)
	}
	return nil
}
