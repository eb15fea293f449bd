package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// FolderCallbacks is the S3 prefix for archived gateway callbacks.
const FolderCallbacks = "payment-callbacks"

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	AuditBucket     string
}

// S3 archives payment audit payloads.
type S3 struct {
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AuditBucket == "" {
		return nil, fmt.Errorf("audit bucket not configured")
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using credentials from .env/config", zap.String("region", cfg.Region), zap.String("audit_bucket", cfg.AuditBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3{
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// CallbackKey returns payment-callbacks/{yyyy}/{mm}/{dd}/{transaction_id}-{unix_nano}.txt.
func CallbackKey(transactionID string, at time.Time) string {
	at = at.UTC()
	return path.Join(FolderCallbacks, at.Format("2006"), at.Format("01"), at.Format("02"),
		fmt.Sprintf("%s-%d.txt", path.Base(transactionID), at.UnixNano()))
}

// ArchiveCallback stores the full raw callback query string. Objects are server-side encrypted.
func (s *S3) ArchiveCallback(ctx context.Context, transactionID string, raw []byte) (string, error) {
	key := CallbackKey(transactionID, time.Now())
	if err := s.upload(ctx, key, "text/plain; charset=utf-8", bytes.NewReader(raw), int64(len(raw))); err != nil {
		return "", err
	}
	return key, nil
}

func (s *S3) upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.cfg.AuditBucket),
		Key:                  aws.String(key),
		Body:                 body,
		ContentType:          aws.String(contentType),
		ContentLength:        aws.Int64(contentLength),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Debug("archived object", zap.String("bucket", s.cfg.AuditBucket), zap.String("key", key))
	return nil
}
