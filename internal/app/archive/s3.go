package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"collabsync/internal/app/protocol"
	"collabsync/internal/pkg/errs"
	"collabsync/internal/pkg/logx"
)

// S3 archives journals in an S3-compatible bucket.
type S3 struct {
	cfg      Config
	client   *s3.Client
	uploader *manager.Uploader
	now      func() time.Time
	logger   zerolog.Logger
}

var _ Archiver = (*S3)(nil)

// NewS3 builds a client for a custom S3-compatible endpoint with static credentials.
func NewS3(cfg Config) (*S3, error) {
	sdkCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &S3{
		cfg:      cfg,
		client:   client,
		uploader: manager.NewUploader(client),
		now:      time.Now,
		logger:   logx.Component("archive").With().Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

func (a *S3) Archive(ctx context.Context, sessionID string, entries []protocol.Message) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	body, err := EncodeJournal(entries)
	if err != nil {
		return "", err
	}

	key := Key(sessionID, a.now())
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(ContentType),
	})
	if err != nil {
		a.logger.Error().Err(err).Str("key", key).Msg("Journal upload failed")
		return "", fmt.Errorf("archive: upload %s: %w", key, err)
	}

	a.logger.Info().Str("key", key).Int("entries", len(entries)).Msg("Journal archived")
	return key, nil
}

func (a *S3) Latest(ctx context.Context, sessionID string) (string, error) {
	var latest string

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.cfg.BucketName),
		Prefix: aws.String(Prefix(sessionID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("archive: list %s: %w", Prefix(sessionID), err)
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); newerKey(key, latest) {
				latest = key
			}
		}
	}

	if latest == "" {
		return "", errs.NewError(errs.ErrArchiveUnavailable)
	}
	return latest, nil
}

// newerKey compares journal keys of one session; longer timestamps are newer.
func newerKey(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

func (a *S3) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(a.client)

	resp, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		a.logger.Error().Err(err).Str("key", key).Msg("Failed to presign journal download")
		return "", errors.New("failed to generate presigned URL")
	}

	return resp.URL, nil
}
