package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/khdc-me/twine/distfile"
)

const numS3Retries = 3

// S3ClientParams configures an object storage backed index.
type S3ClientParams struct {
	// RepositoryURL is an s3://bucket/prefix style endpoint.
	RepositoryURL   string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Client publishes distributions into an object storage bucket laid out as
// a static package index: one directory per normalized package name.
type S3Client struct {
	client *s3.Client
	bucket string
	prefix string
	logger log.Logger
}

// NewS3Client ...
func NewS3Client(params S3ClientParams, logger log.Logger) (*S3Client, error) {
	bucket, prefix, err := parseS3URL(params.RepositoryURL)
	if err != nil {
		return nil, err
	}

	cfg, err := loadAWSConfig(context.Background(), params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return &S3Client{
		client: s3.NewFromConfig(*cfg),
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

func parseS3URL(repositoryURL string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(repositoryURL, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3:// repository URL: %s", repositoryURL)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("bucket must not be empty: %s", repositoryURL)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func loadAWSConfig(ctx context.Context, region string, accessKeyID string, secretKey string, logger log.Logger) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("No static credentials provided, using the default chain")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

var pep503Separators = regexp.MustCompile(`[-_.]+`)

// normalizeName maps a package name to its index directory name.
func normalizeName(name string) string {
	return strings.ToLower(pep503Separators.ReplaceAllString(name, "-"))
}

func (c *S3Client) objectKey(d *distfile.DistFile, filename string) string {
	return path.Join(c.prefix, normalizeName(d.Metadata.Name), filename)
}

// PackageIsUploaded ...
func (c *S3Client) PackageIsUploaded(d *distfile.DistFile) (bool, error) {
	ctx := context.Background()
	key := c.objectKey(d, d.BaseFilename)

	var uploaded bool
	err := retry.Times(numS3Retries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				switch apiError.(type) {
				case *types.NotFound:
					uploaded = false
					return nil, true
				default:
					return fmt.Errorf("validating object: %w", err), false
				}
			}
			return fmt.Errorf("head object: %w", err), false
		}

		uploaded = true
		return nil, true
	})

	return uploaded, err
}

// Upload puts the artifact and its attached signature, if any, under the
// package's directory. Object storage cannot redirect or reject duplicates,
// so a plain success response is synthesized for the caller.
func (c *S3Client) Upload(d *distfile.DistFile) (*Response, error) {
	ctx := context.Background()

	c.logger.Infof("Uploading %s (%s)", d.BaseFilename, units.HumanSize(float64(d.Size)))
	if err := c.putFileWithRetry(ctx, c.objectKey(d, d.BaseFilename), d.Path, d.Size); err != nil {
		return nil, fmt.Errorf("upload %s: %w", d.BaseFilename, err)
	}

	if name, content, ok := d.GPGSignature(); ok {
		key := c.objectKey(d, name)
		if err := c.putBytesWithRetry(ctx, key, content); err != nil {
			return nil, fmt.Errorf("upload signature %s: %w", name, err)
		}
	}

	return &Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Reason:     "OK",
	}, nil
}

func (c *S3Client) putFileWithRetry(ctx context.Context, key string, filePath string, size int64) error {
	return retry.Times(numS3Retries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		file, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("open artifact path: %w", err), true
		}
		defer func() {
			_ = file.Close()
		}()

		var partMB int64 = 10
		uploader := manager.NewUploader(c.client, func(u *manager.Uploader) {
			u.PartSize = partMB * 1024 * 1024
		})

		_, err = uploader.Upload(ctx, &s3.PutObjectInput{
			Body:              file,
			Bucket:            aws.String(c.bucket),
			Key:               aws.String(key),
			ContentType:       aws.String("application/octet-stream"),
			ContentLength:     aws.Int64(size),
			ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		})
		if err != nil {
			return fmt.Errorf("upload artifact: %w", err), false
		}

		return nil, true
	})
}

func (c *S3Client) putBytesWithRetry(ctx context.Context, key string, content []byte) error {
	return retry.Times(numS3Retries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		uploader := manager.NewUploader(c.client)
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Body:              bytes.NewReader(content),
			Bucket:            aws.String(c.bucket),
			Key:               aws.String(key),
			ContentType:       aws.String("text/plain"),
			ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		})
		if err != nil {
			return fmt.Errorf("upload object: %w", err), false
		}

		return nil, true
	})
}

// Close is a no-op, the SDK client holds no connection pool of its own.
func (c *S3Client) Close() error {
	return nil
}
