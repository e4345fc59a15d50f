package data

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds configuration for the S3-compatible artifact store.
type S3Config struct {
	Endpoint       string `json:"endpoint"`
	AccessKey      string `json:"access_key"`
	SecretKey      string `json:"secret_key"`
	Region         string `json:"region"`
	Bucket         string `json:"bucket"`
	DisableTLS     bool   `json:"disable_tls"`
	ForcePathStyle bool   `json:"force_path_style"`
}

// S3ContentStore implements the ContentStore interface against any
// S3-compatible object store (MinIO, SeaweedFS, AWS).
type S3ContentStore struct {
	api    *s3.Client
	bucket string
}

// NewS3Client builds an S3 client for the configured endpoint. Path-style
// addressing is the norm for self-hosted stores.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("s3 access key and secret key are required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	scheme := "https"
	if cfg.DisableTLS {
		scheme = "http"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}

// NewS3ContentStore creates a content store over the given client and bucket.
func NewS3ContentStore(api *s3.Client, bucket string) (*S3ContentStore, error) {
	if api == nil {
		return nil, errors.New("nil s3 client")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &S3ContentStore{api: api, bucket: bucket}, nil
}

// EnsureBucket creates the backing bucket if it does not already exist.
func (s *S3ContentStore) EnsureBucket(ctx context.Context) error {
	_, err := s.api.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: &s.bucket,
	})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		var exists *s3types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Exists reports whether a blob with the given id is stored.
func (s *S3ContentStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(objectKey(id)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", id, err)
	}
	return true, nil
}

// Put uploads blob content under its content hash. The checksum header lets
// the store verify the body matches the id end to end.
func (s *S3ContentStore) Put(ctx context.Context, id string, content []byte) error {
	checksum, err := encodeSHA256(id)
	if err != nil {
		return fmt.Errorf("encode checksum: %w", err)
	}

	size := int64(len(content))
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            &s.bucket,
		Key:               aws.String(objectKey(id)),
		Body:              bytes.NewReader(content),
		ContentLength:     &size,
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
		Metadata: map[string]string{
			"sha256": id,
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", id, err)
	}
	return nil
}

// Get downloads the blob content for the given id. A missing blob maps to
// ErrBlobNotFound.
func (s *S3ContentStore) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(objectKey(id)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", id, err)
	}
	defer func() {
		_ = out.Body.Close()
	}()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", id, err)
	}
	return content, nil
}

// Delete removes the blob for the given id. Deleting a missing blob is not
// an error.
func (s *S3ContentStore) Delete(ctx context.Context, id string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(objectKey(id)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("delete object %s: %w", id, err)
	}
	return nil
}

func objectKey(id string) string {
	return id + ".zip"
}

func isS3NotFound(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func encodeSHA256(hexDigest string) (string, error) {
	if hexDigest == "" {
		return "", errors.New("sha256 digest required")
	}
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
