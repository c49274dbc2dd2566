package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"airlock.evalgo.org/request"
)

// S3Store keeps snapshots in an S3-compatible bucket (AWS, MinIO,
// Hetzner object storage), keyed by their sha256 digest. Deployments
// with more than one airlock process point them at the same bucket.
//
// Uploads go through the transfer manager when the store is built on a
// real SDK client; mock-backed stores fall back to a plain PutObject.
type S3Store struct {
	client   S3Client
	uploader *manager.Uploader
	bucket   string
}

// S3Options configures the S3 snapshot store. URL is optional; when set
// it overrides the endpoint for S3-compatible services and switches to
// path-style addressing.
type S3Options struct {
	URL       string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// NewS3Store builds an S3 store from connection options, verifying the
// bucket is reachable.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	}
	if opts.URL != "" {
		url := opts.URL
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               url,
					SigningRegion:     region,
					HostnameImmutable: true, // important for MinIO
				}, nil
			})))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading s3 configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.URL != "" {
			o.UsePathStyle = true // required for MinIO
		}
		o.HTTPClient = &http.Client{}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(opts.Bucket)}); err != nil {
		return nil, fmt.Errorf("checking snapshot bucket %s: %w", opts.Bucket, err)
	}

	store := NewS3StoreWithClient(client, opts.Bucket)
	store.uploader = manager.NewUploader(client)
	return store, nil
}

// NewS3StoreWithClient builds the store on an injected client. Tests
// use this with the mock.
func NewS3StoreWithClient(client S3Client, bucket string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
	}
}

func (s *S3Store) key(hash string) string {
	return "snapshots/" + hash[:2] + "/" + hash
}

// Put hashes the bytes through a local temp file, then uploads them
// under their digest. The temp spool keeps arbitrarily large files out
// of RAM while still knowing the key before the upload starts.
func (s *S3Store) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp("", "airlock-snapshot-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating snapshot spool: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return "", 0, fmt.Errorf("spooling snapshot: %w", err)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	exists, err := s.Exists(ctx, hash)
	if err != nil {
		return "", 0, err
	}
	if exists {
		return hash, size, nil
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("rewinding snapshot spool: %w", err)
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
		Body:   tmp,
		Metadata: map[string]string{
			"sha256": hash,
		},
	}
	if s.uploader != nil {
		_, err = s.uploader.Upload(ctx, input)
	} else {
		_, err = s.client.PutObject(ctx, input)
	}
	if err != nil {
		return "", 0, fmt.Errorf("uploading snapshot %s: %w", hash, err)
	}
	return hash, size, nil
}

// Open returns a reader over the stored blob.
func (s *S3Store) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, request.NotFoundf("snapshot %s not found", hash)
		}
		return nil, fmt.Errorf("fetching snapshot %s: %w", hash, err)
	}
	return out.Body, nil
}

// Exists reports whether the blob is stored.
func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err == nil {
		return true, nil
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("checking snapshot %s: %w", hash, err)
}
