package observability

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"

	"github.com/exllm/exllm/pkg/pipeline"
)

// S3Config configures the request archive sink.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	QueueSize int // pending uploads before drops, default 256
}

// s3Uploader is the slice of the S3 API the sink needs; the real client
// and test fakes both satisfy it.
type s3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives finished requests as JSON objects under
// <prefix><provider>/<date>/<request_id>.json; the prefix is prepended
// as given, so it carries its own trailing slash. Uploads run on a single
// background worker; when the queue is full new records are dropped
// rather than blocking the pipeline.
type S3Sink struct {
	client s3Uploader
	cfg    S3Config
	log    *slog.Logger

	queue chan s3Record
	done  chan struct{}
}

type s3Record struct {
	key  string
	body []byte
}

type s3Archive struct {
	RequestID  string         `json:"request_id"`
	Provider   string         `json:"provider"`
	State      string         `json:"state"`
	Model      string         `json:"model,omitempty"`
	Usage      map[string]int `json:"usage,omitempty"`
	CostUSD    float64        `json:"cost_usd,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Errors     []string       `json:"errors,omitempty"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// NewS3Sink resolves AWS credentials from the environment chain and
// starts the upload worker.
func NewS3Sink(ctx context.Context, cfg S3Config, log *slog.Logger) (*S3Sink, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3Sink(s3.NewFromConfig(awsCfg), cfg, log), nil
}

func newS3Sink(client s3Uploader, cfg S3Config, log *slog.Logger) *S3Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log == nil {
		log = slog.Default()
	}
	s := &S3Sink{
		client: client,
		cfg:    cfg,
		log:    log,
		queue:  make(chan s3Record, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *S3Sink) worker() {
	defer close(s.done)
	for rec := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &s.cfg.Bucket,
			Key:    &rec.key,
			Body:   bytes.NewReader(rec.body),
		})
		cancel()
		if err != nil {
			s.log.Warn("s3 archive upload failed", "key", rec.key, "error", err)
		}
	}
}

// OnRequestEnd implements Sink.
func (s *S3Sink) OnRequestEnd(ctx context.Context, req *pipeline.Request) {
	input, output, total := usageOf(req)
	archive := s3Archive{
		RequestID:  req.ID,
		Provider:   req.Provider,
		State:      string(req.State),
		CostUSD:    costOf(req),
		DurationMs: durationMsOf(req),
		ArchivedAt: time.Now().UTC(),
	}
	if req.Result != nil {
		archive.Model = req.Result.Model
		archive.Usage = map[string]int{"input": input, "output": output, "total": total}
	}
	for _, e := range req.Errors {
		archive.Errors = append(archive.Errors, string(e.Kind)+": "+e.Message)
	}

	body, err := json.Marshal(archive)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%s/%s/%s.json",
		s.cfg.Prefix, req.Provider, archive.ArchivedAt.Format("2006-01-02"), req.ID)

	select {
	case s.queue <- s3Record{key: key, body: body}:
	default:
		s.log.Debug("s3 archive queue full, dropping record", "request_id", req.ID)
	}
}

// Close drains the queue and stops the worker.
func (s *S3Sink) Close() error {
	close(s.queue)
	<-s.done
	return nil
}
