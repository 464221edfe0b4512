package adapter

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/m-mizutani/goerr/v2"
)

type s3Client struct {
	client   *s3.Client
	uploader *manager.Uploader

	region    string
	endpoint  string
	accessKey string
	secretKey string
}

// S3Option is a functional option for the S3 object store
type S3Option func(*s3Client)

// WithS3Region overrides the region from the AWS default chain
func WithS3Region(region string) S3Option {
	return func(c *s3Client) {
		c.region = region
	}
}

// WithS3Endpoint targets an S3-compatible service such as MinIO or R2. Path-style
// addressing is used with a custom endpoint.
func WithS3Endpoint(endpoint string) S3Option {
	return func(c *s3Client) {
		c.endpoint = endpoint
	}
}

// WithS3StaticCredentials uses a fixed key pair instead of the default chain
func WithS3StaticCredentials(accessKey, secretKey string) S3Option {
	return func(c *s3Client) {
		c.accessKey = accessKey
		c.secretKey = secretKey
	}
}

// NewS3 creates an S3 object store. Credentials and region come from the AWS
// default chain unless overridden by options.
func NewS3(ctx context.Context, opts ...S3Option) (ObjectStore, error) {
	c := &s3Client{}
	for _, opt := range opts {
		opt(c)
	}

	var loadOpts []func(*config.LoadOptions) error
	if c.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(c.region))
	}
	if c.accessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.accessKey, c.secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load AWS config")
	}

	c.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.endpoint != "" {
			o.BaseEndpoint = aws.String(c.endpoint)
			o.UsePathStyle = true
		}
	})
	c.uploader = manager.NewUploader(c.client)

	return c, nil
}

func (c *s3Client) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get object", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return out.Body, nil
}

func (c *s3Client) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	if _, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}); err != nil {
		return goerr.Wrap(err, "failed to upload object", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return nil
}
