package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"salesync/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3API is the subset of the S3 client the mirror uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3MirrorChannel writes one object per sale under a tenant prefix. Writes
// are conditional on the key being absent, so a retried push never
// overwrites the first copy.
type S3MirrorChannel struct {
	client S3API
	bucket string
	prefix string
	now    func() time.Time
}

type mirrorDocument struct {
	Sale      json.RawMessage `json:"sale"`
	TotalBs   float64         `json:"total_bs"`
	TotalUSD  float64         `json:"total_usd"`
	WrittenAt time.Time       `json:"written_at"`
}

// NewS3MirrorChannel builds an S3 client for any S3-compatible store.
func NewS3MirrorChannel(ctx context.Context, cfg config.S3Config) (*S3MirrorChannel, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: mirror bucket is required", ErrNotConfigured)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		// the retry scheduler owns retries
		o.RetryMaxAttempts = 1
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return NewS3MirrorChannelWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3MirrorChannelWithClient wraps an existing client.
func NewS3MirrorChannelWithClient(client S3API, bucket, prefix string) *S3MirrorChannel {
	return &S3MirrorChannel{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

func (m *S3MirrorChannel) Name() string { return NameMirror }

// ObjectKey returns the key a sale is stored under.
func (m *S3MirrorChannel) ObjectKey(tenant, idGlobal string) string {
	if tenant == "" {
		tenant = "default"
	}
	return path.Join(m.prefix, "tenants", tenant, "sales", idGlobal+".json")
}

func (m *S3MirrorChannel) Push(ctx context.Context, d Delivery) (*Ack, error) {
	if err := validDelivery(d); err != nil {
		return nil, &PushError{Channel: NameMirror, Err: err}
	}

	sale, err := json.Marshal(d.Record)
	if err != nil {
		return nil, &PushError{Channel: NameMirror, Err: err}
	}
	writtenAt := m.now().UTC()
	body, err := json.Marshal(mirrorDocument{
		Sale:      sale,
		TotalBs:   d.Event.Payload.TotalBs,
		TotalUSD:  d.Event.Payload.TotalUSD,
		WrittenAt: writtenAt,
	})
	if err != nil {
		return nil, &PushError{Channel: NameMirror, Err: err}
	}

	key := m.ObjectKey(d.Record.TenantID, d.Record.IDGlobal)
	out, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
		IfNoneMatch:   aws.String("*"),
		Metadata: map[string]string{
			"evento-uid": d.Event.EventoUID,
			"tenant":     d.Record.TenantID,
		},
	})
	if err != nil {
		if status := httpStatus(err); status == http.StatusPreconditionFailed {
			return &Ack{Channel: NameMirror, RemoteID: key, At: writtenAt, Duplicate: true}, nil
		} else if status != 0 {
			return nil, &PushError{Channel: NameMirror, StatusCode: status, Err: err}
		}
		return nil, &PushError{Channel: NameMirror, Err: err}
	}

	remoteID := key
	if out != nil && out.ETag != nil {
		remoteID = key + "@" + strings.Trim(*out.ETag, `"`)
	}
	return &Ack{Channel: NameMirror, RemoteID: remoteID, At: writtenAt}, nil
}

func httpStatus(err error) int {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

func normalizeEndpoint(endpoint string, useSSL bool) (string, error) {
	if endpoint == "" {
		return "", nil
	}
	// Ensure endpoint has protocol
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("invalid mirror endpoint: %w", err)
	}
	return endpoint, nil
}
