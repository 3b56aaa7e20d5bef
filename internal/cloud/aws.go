// Package cloud builds the AWS clients shared by the archive and the commit
// retry queue.
package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients holds the AWS service clients.
type Clients struct {
	S3  *s3.Client
	SQS *sqs.Client
}

// NewClients loads the default AWS configuration (environment, shared
// config, instance role) and builds the clients. A custom endpoint such as
// LocalStack is picked up from AWS_ENDPOINT_URL.
func NewClients(ctx context.Context) (*Clients, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
		UsePathStyle: true,
	})
	sqsClient := sqs.New(sqs.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
	})
	return &Clients{S3: s3Client, SQS: sqsClient}, nil
}
