package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const s3Scheme = "s3://"

// S3Config holds bucket settings. Empty keys fall back to the default AWS
// credential chain.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint targets S3 compatible services
	Endpoint string
}

// S3 stores files in a bucket. Refs have the form s3://bucket/key; other
// refs are opened from the local filesystem.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3 store
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (s *S3) key(name string) string {
	obj := objectName(name)
	if s.prefix == "" {
		return obj
	}
	return path.Join(s.prefix, obj)
}

// Save spools r to a temporary file so the SDK gets a seekable body with a
// known length, then puts the object
func (s *S3) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return "", fmt.Errorf("spool upload: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	key := s.key(name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          tmp,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", domain.NewError(domain.KindExternalService, "s3 put failed", err)
	}

	log.WithFields(log.Fields{"bucket": s.bucket, "key": key, "size": size}).Debug("file stored")
	return s3Scheme + s.bucket + "/" + key, nil
}

func (s *S3) Open(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	bucket, key, ok := ParseRef(ref)
	if !ok {
		return openFile(ref)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, domain.NotFoundf("object %s not found", ref)
		}
		return nil, 0, domain.NewError(domain.KindExternalService, "s3 get failed", err)
	}

	return out.Body, aws.ToInt64(out.ContentLength), nil
}

func (s *S3) Delete(ctx context.Context, ref string) error {
	bucket, key, ok := ParseRef(ref)
	if !ok {
		if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

// ParseRef splits an s3://bucket/key ref
func ParseRef(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, s3Scheme)
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
