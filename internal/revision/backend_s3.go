package revision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

const s3ExistsCacheSize = 16384

// S3Backend keeps blobs in a bucket under <prefix><service>/objects/<ab>/<hash>.
// Content is spooled to a local temp file first so that its hash is known before upload.
type S3Backend struct {
	client   *s3.Client
	config   *S3Config
	tmpDir   string
	existing *lru.Cache[string, struct{}]
}

func NewS3Backend(client *s3.Client, cfg *S3Config) (*S3Backend, error) {
	cache, err := lru.New[string, struct{}](s3ExistsCacheSize)
	if err != nil {
		return nil, err
	}
	return &S3Backend{
		client:   client,
		config:   cfg,
		tmpDir:   os.TempDir(),
		existing: cache,
	}, nil
}

// NewS3BackendWithConfig builds the S3 client from static credentials
func NewS3BackendWithConfig(ctx context.Context, cfg *S3Config) (*S3Backend, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// S3 compatible stores do not all understand the newer default checksums
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return NewS3Backend(client, cfg)
}

func (s *S3Backend) Write(ctx context.Context, st synctypes.ServiceType, r io.Reader, expectedHash string) (*BlobInfo, error) {
	tmp, err := os.CreateTemp(s.tmpDir, "aldersync-s3-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hr := utils.NewHashingReader(r)
	if _, err := io.Copy(tmp, hr); err != nil {
		return nil, fmt.Errorf("spool content: %w", err)
	}

	info := &BlobInfo{Hash: hr.Sum(), Size: hr.Size()}
	if err := checkExpected(info.Hash, expectedHash); err != nil {
		return nil, err
	}

	exists, err := s.Exists(ctx, st, info.Hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return info, nil
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}

	key := s.key(st, info.Hash)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.BucketName),
		Key:           aws.String(key),
		Body:          tmp,
		ContentLength: aws.Int64(info.Size),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	s.existing.Add(key, struct{}{})
	slog.Debug("s3 put", "key", key, "size", info.Size)
	return info, nil
}

func (s *S3Backend) Open(ctx context.Context, st synctypes.ServiceType, hash string) (io.ReadCloser, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}

	key := s.key(st, hash)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			s.existing.Remove(key)
			return nil, fmt.Errorf("blob %s: %w", hash, synctypes.ErrNotFound)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}

	return resp.Body, nil
}

func (s *S3Backend) Exists(ctx context.Context, st synctypes.ServiceType, hash string) (bool, error) {
	if err := ValidateHash(hash); err != nil {
		return false, err
	}

	key := s.key(st, hash)
	if s.existing.Contains(key) {
		return true, nil
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}

	s.existing.Add(key, struct{}{})
	return true, nil
}

func (s *S3Backend) Remove(ctx context.Context, st synctypes.ServiceType, hash string) error {
	if err := ValidateHash(hash); err != nil {
		return err
	}

	key := s.key(st, hash)
	s.existing.Remove(key)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3Backend) key(st synctypes.ServiceType, hash string) string {
	prefix := strings.Trim(s.config.Prefix, "/")
	if prefix == "" {
		return objectKey(st, hash)
	}
	return prefix + "/" + objectKey(st, hash)
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

var _ ContentBackend = (*S3Backend)(nil)
