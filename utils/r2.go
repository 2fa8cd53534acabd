// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"doodle-match-system/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

// ObjectPutter is the part of the S3 client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Uploader stores submitted drawings in a Cloudflare R2 bucket.
type R2Uploader struct {
	client     ObjectPutter
	bucket     string
	cdnBaseURL string
}

func NewR2Uploader(ctx context.Context, cfg config.R2Config) (*R2Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	cdn := cfg.CDNBaseURL
	if cdn == "" {
		cdn = endpoint + "/" + cfg.Bucket
	}
	return NewR2UploaderWithClient(client, cfg.Bucket, cdn), nil
}

func NewR2UploaderWithClient(client ObjectPutter, bucket, cdnBaseURL string) *R2Uploader {
	return &R2Uploader{client: client, bucket: bucket, cdnBaseURL: strings.TrimRight(cdnBaseURL, "/")}
}

// UploadSVG uploads an SVG document and returns its public URL.
func (u *R2Uploader) UploadSVG(ctx context.Context, key string, svg []byte) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(svg),
		ContentType:  aws.String("image/svg+xml"),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}

	return fmt.Sprintf("%s/%s", u.cdnBaseURL, key), nil
}

// DrawingKey is the object key of one submitted drawing, e.g. "drawings/<match>/turn-3-alice.svg".
func DrawingKey(matchID string, turnNumber int, userID string) string {
	if turnNumber > 0 {
		return fmt.Sprintf("drawings/%s/turn-%d-%s.svg", matchID, turnNumber, slug.Make(userID))
	}
	return fmt.Sprintf("drawings/%s/%s.svg", matchID, slug.Make(userID))
}
