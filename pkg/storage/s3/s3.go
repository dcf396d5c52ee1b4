// Package s3 provides the S3 interchange destination on aws-sdk-go-v2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/interfaces"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-west-2")
	Region string

	// Bucket receives the interchange files
	Bucket string

	// Prefix is prepended to every key
	Prefix string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	OperationTimeout time.Duration
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:           bucket,
		Region:           region,
		OperationTimeout: 30 * time.Second,
	}
}

// API is the subset of the S3 service client used here.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client implements ObjectStorage over a bucket and key prefix.
type Client struct {
	cfg    Config
	client API
}

// NewClient creates a new S3 client from the default credential chain,
// or from static credentials when both keys are set.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewWithAPI(cfg, s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

// NewWithAPI wraps an existing service client.
func NewWithAPI(cfg Config, api API) *Client {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	return &Client{cfg: cfg, client: api}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Scheme returns "s3".
func (c *Client) Scheme() string {
	return "s3"
}

// Location returns the s3:// URL of a key.
func (c *Client) Location(p string) string {
	return "s3://" + c.cfg.Bucket + "/" + c.key(p)
}

// Put uploads data. With IfNotExists a HeadObject check runs first and
// an existing key fails with NameCollision.
func (c *Client) Put(ctx context.Context, p string, data io.Reader, opts interfaces.PutOptions) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	key := c.key(p)
	if opts.IfNotExists {
		exists, err := c.exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return perrors.NameCollision(path.Base(key), "s3://"+c.cfg.Bucket+"/"+path.Dir(key))
		}
	}

	// PutObject needs a seekable body to sign the payload.
	body, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read upload body: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(c.cfg.Bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		if isDenied(err) {
			return perrors.WriteDenied(c.Location(p), err)
		}
		return fmt.Errorf("failed to put object %s/%s: %w", c.cfg.Bucket, key, err)
	}
	return nil
}

// Get returns a reader for the object.
func (c *Client) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	key := c.key(p)
	output, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", c.cfg.Bucket, key, err)
	}
	return output.Body, nil
}

// Exists checks if an object exists.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()
	return c.exists(ctx, c.key(p))
}

func (c *Client) exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	case isDenied(err):
		return false, perrors.WriteDenied("s3://"+c.cfg.Bucket+"/"+key, err)
	default:
		return false, fmt.Errorf("failed to head object %s/%s: %w", c.cfg.Bucket, key, err)
	}
}

func (c *Client) key(p string) string {
	p = strings.TrimPrefix(p, "/")
	if c.cfg.Prefix == "" {
		return p
	}
	return path.Join(strings.Trim(c.cfg.Prefix, "/"), p)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return httpStatus(err) == http.StatusNotFound
}

func isDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return true
		}
	}
	return httpStatus(err) == http.StatusForbidden
}

func httpStatus(err error) int {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

var _ interfaces.ObjectStorage = (*Client)(nil)
