package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-broker-agent/internal/config"
)

// NewClient creates the DynamoDB client the repos share. A non-empty
// cfg.AWSEndpointURL (LocalStack) redirects all traffic there; static
// credentials are only wired when configured, so production deployments
// keep the default provider chain.
func NewClient(cfg *config.Config) *dynamodb.Client {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions(cfg)...)
	if err != nil {
		panic("failed to load AWS config: " + err.Error())
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	})
}

func loadOptions(cfg *config.Config) []func(*awsconfig.LoadOptions) error {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}
	return opts
}
