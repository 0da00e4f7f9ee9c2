package deadletter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolsync/libs/config"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
)

const (
	defaultConnAttempts = 10
	defaultConnTimeout  = time.Second
)

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes every dead letter as one JSON object to an S3-compatible
// bucket, keyed by consumer and failure date.
type S3Archive struct {
	client objectPutter
	bucket string
}

// NewS3Archive connects with retries, checking access by heading the bucket.
func NewS3Archive(ctx context.Context, cfg config.DeadLetterArchive, logger *slog.Logger) (*S3Archive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("deadletter - NewS3Archive - LoadDefaultConfig: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	for attempts := defaultConnAttempts; ; attempts-- {
		_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)})
		if err == nil {
			break
		}
		if attempts <= 1 {
			return nil, fmt.Errorf("deadletter - NewS3Archive - HeadBucket %s: %w", cfg.Bucket, err)
		}
		logger.Warn("dead letter archive unreachable, retrying", "err", err, "attempts_left", attempts-1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(defaultConnTimeout):
		}
	}
	return &S3Archive{client: client, bucket: cfg.Bucket}, nil
}

type archivedLetter struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	TenantID   string            `json:"tenant_id"`
	Topic      string            `json:"topic"`
	Consumer   string            `json:"consumer"`
	Subscriber string            `json:"subscriber,omitempty"`
	Reason     string            `json:"reason"`
	Error      string            `json:"error"`
	Attempts   int               `json:"attempts"`
	Key        []byte            `json:"key,omitempty"`
	Payload    []byte            `json:"payload"`
	Headers    map[string]string `json:"headers,omitempty"`
	FailedAt   time.Time         `json:"failed_at"`
}

func (a *S3Archive) Store(ctx context.Context, dl eventbus.DeadLetter) error {
	body, err := sonic.Marshal(archivedLetter(dl))
	if err != nil {
		return fmt.Errorf("deadletter - S3Archive - marshal: %w", err)
	}
	key := objectKey(dl)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("deadletter - S3Archive - PutObject %s: %w", key, err)
	}
	return nil
}

func objectKey(dl eventbus.DeadLetter) string {
	name := dl.EventID
	if name == "" {
		name = "unidentified-" + uuid.NewString()
	}
	at := dl.FailedAt.UTC()
	return path.Join(dl.Consumer, at.Format("2006/01/02"), name+".json")
}

var _ eventbus.DeadLetterSink = (*S3Archive)(nil)
