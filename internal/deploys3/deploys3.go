package deploys3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	transport "github.com/aws/smithy-go/endpoints"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

type NewClientParams struct {
	// ConnectionString selects an S3-compatible endpoint such as MinIO.
	// It must be a valid URL in the format: http://key:secret@s3:9000.
	// When empty, the client is configured from the default AWS
	// credential chain.
	ConnectionString string

	Region string // default: DefaultRegion
}

// NewClient creates a new Client from params.
func NewClient(ctx context.Context, params *NewClientParams) (*s3.Client, error) {
	region := params.Region
	if region == "" {
		region = DefaultRegion
	}

	if params.ConnectionString == "" {
		cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("deploys3.NewClient: %w", err)
		}
		return s3.NewFromConfig(cfg), nil
	}

	u, err := url.Parse(params.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("deploys3.NewClient: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("deploys3.NewClient: connection string must be an absolute URL")
	}

	username := u.User.Username()
	password, _ := u.User.Password()
	u.User = nil

	client := s3.New(
		s3.Options{
			Region:             region,
			Credentials:        credentials.NewStaticCredentialsProvider(username, password, ""),
			EndpointResolverV2: &endpointResolver{BaseURL: u},
		},
	)
	return client, nil
}

// endpointResolver implements s3.EndpointResolverV2.
// It resolves path-style endpoints for S3-compatible object storage like MinIO.
type endpointResolver struct {
	BaseURL *url.URL // required
}

func (r *endpointResolver) ResolveEndpoint(_ context.Context, params s3.EndpointParameters) (transport.Endpoint, error) {
	u := *r.BaseURL
	if params.Bucket != nil {
		u.Path += "/" + *params.Bucket
	}
	return transport.Endpoint{URI: u}, nil
}

// Setup creates bucket unless it is already owned by the caller and waits
// until it exists.
func Setup(ctx context.Context, client *s3.Client, bucket string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if region := client.Options().Region; region != "" && region != DefaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	_, err := client.CreateBucket(ctx, input)
	if ownedErr := (*types.BucketAlreadyOwnedByYou)(nil); errors.As(err, &ownedErr) {
		// continue
	} else if err != nil {
		return fmt.Errorf("deploys3.Setup: %w", err)
	}

	err = s3.NewBucketExistsWaiter(client).Wait(
		ctx,
		&s3.HeadBucketInput{Bucket: aws.String(bucket)},
		time.Minute,
	)
	if err != nil {
		return fmt.Errorf("deploys3.Setup: %w", err)
	}

	return nil
}
