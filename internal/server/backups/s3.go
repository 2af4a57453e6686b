// Package backups uploads already-encrypted identity envelopes to
// S3-compatible object storage.
package backups

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const (
	contentType   = "application/octet-stream"
	defaultExpiry = 15 * time.Minute
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
)

// Options configure the S3 connection. Endpoint may point at MinIO.
type Options struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// ObjectAPI is the subset of *s3.Client used by the store.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner is the subset of *s3.PresignClient used by the store.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Store struct {
	bucket    string
	objects   ObjectAPI
	presigner Presigner
	now       func() time.Time
}

// NewS3Store builds a store with static credentials.
func NewS3Store(ctx context.Context, o Options) (*S3Store, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(opts *s3.Options) {
		if o.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.Endpoint)
			opts.UsePathStyle = true
		}
	})

	return NewStore(o.Bucket, client, newS3PresignClient(client)), nil
}

func NewStore(bucket string, objects ObjectAPI, presigner Presigner) *S3Store {
	return &S3Store{bucket: bucket, objects: objects, presigner: presigner, now: time.Now}
}

// Backup is a stored object and a short-lived download link for it.
type Backup struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ObjectKey returns a fresh, unguessable object key for userID.
func ObjectKey(userID string, d time.Time) string {
	return fmt.Sprintf("identity/%s/%d/%02d/%02d/%v.bin", userID, d.Year(), d.Month(), d.Day(), uuid.New())
}

// Put uploads data under a new key and returns the key with a presigned GET
// URL. data must already be encrypted.
func (s *S3Store) Put(ctx context.Context, userID string, data []byte) (*Backup, error) {
	now := s.now()
	key := ObjectKey(userID, now)

	_, err := s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"user-id": userID},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put %s: %w", key, err)
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(defaultExpiry))
	if err != nil {
		return nil, fmt.Errorf("s3 presign %s: %w", key, err)
	}

	return &Backup{Key: key, URL: req.URL, ExpiresAt: now.Add(defaultExpiry)}, nil
}
