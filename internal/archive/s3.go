// Package archive writes unmodified provider payloads to S3 before any
// parsing happens, partitioned by provider, partner, and run date/hour.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"lead-status-sync/internal/config"
	"lead-status-sync/internal/models"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 archives raw feeds. One instance serves all source configurations; the
// destination bucket comes from each configuration.
type S3 struct {
	client s3API
	log    *logrus.Entry
	now    func() time.Time
}

// NewS3 builds an archiver against AWS, honoring a custom endpoint for
// localstack-style deployments.
func NewS3(ctx context.Context, cfg config.Config, log *logrus.Entry) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveRegion),
	}
	if cfg.ArchiveEndpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveEndpoint,
					HostnameImmutable: cfg.ArchivePath,
					SigningRegion:     cfg.ArchiveRegion,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchivePath
	})
	return &S3{client: client, log: log, now: time.Now}, nil
}

// Store uploads every (feed, property) payload under the partitioned key
// layout. Failures surface to the caller; the pipeline records them against
// the archive_raw step.
func (a *S3) Store(ctx context.Context, raw models.RawFeeds, bucket, provider, partnerID, fileType string) error {
	if fileType != "json" && fileType != "xml" {
		return fmt.Errorf("unsupported file type: %s", fileType)
	}
	now := a.now().UTC()

	for feed, props := range raw {
		for propertyID, payload := range props {
			key := objectKey(provider, partnerID, feed, propertyID, fileType, now)
			body, contentType, err := prepareBody(payload, fileType)
			if err != nil {
				return fmt.Errorf("prepare body for %s: %w", key, err)
			}
			_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(bucket),
				Key:         aws.String(key),
				Body:        bytes.NewReader(body),
				ContentType: aws.String(contentType),
			})
			if err != nil {
				return fmt.Errorf("put object %s: %w", key, err)
			}
			a.log.WithFields(logrus.Fields{"key": key, "bytes": len(body)}).Info("archived raw payload")
		}
	}
	return nil
}

// objectKey builds the partitioned archive path:
// raw/{provider}/partner_id={pid}/run_date={date}/hour={hh}/{feed}/{property}_{date}{hh}.{ext}
func objectKey(provider, partnerID, feed, propertyID, fileType string, now time.Time) string {
	runDate := now.Format("2006-01-02")
	hour := now.Format("15")
	ext := "xml"
	if fileType == "json" {
		ext = "json.gz"
	}
	return fmt.Sprintf("raw/%s/partner_id=%s/run_date=%s/hour=%s/%s/%s_%s%s.%s",
		provider, partnerID, runDate, hour, feed, propertyID,
		now.Format("20060102"), hour, ext)
}

func prepareBody(payload []byte, fileType string) ([]byte, string, error) {
	if fileType == "xml" {
		return payload, "text/xml", nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, "", fmt.Errorf("gzip payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), "application/gzip", nil
}
