package observability

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exllm/exllm/pkg/pipeline"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeUploader) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*params.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func completedRequest() *pipeline.Request {
	req := pipeline.NewRequest("openai", nil, nil)
	content := "hi"
	return pipeline.Complete(req, &pipeline.NormalizedResponse{
		Content: &content,
		Model:   "gpt-4o",
		Usage:   pipeline.Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3},
	})
}

func TestS3Sink_ArchivesUnderProviderDateKey(t *testing.T) {
	up := &fakeUploader{}
	sink := newS3Sink(up, S3Config{Bucket: "b", Prefix: "llm/"}, nil)

	req := completedRequest()
	sink.OnRequestEnd(context.Background(), req)
	require.NoError(t, sink.Close())

	up.mu.Lock()
	defer up.mu.Unlock()
	require.Len(t, up.objects, 1)
	for key, body := range up.objects {
		assert.Contains(t, key, "llm/openai/")
		assert.Contains(t, key, req.ID)

		var archive map[string]any
		require.NoError(t, json.Unmarshal(body, &archive))
		assert.Equal(t, req.ID, archive["request_id"])
		assert.Equal(t, "gpt-4o", archive["model"])
		assert.Equal(t, "completed", archive["state"])
	}
}

func TestS3Sink_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	blocked := make(chan struct{})
	slow := &slowUploader{release: blocked}
	sink := newS3Sink(slow, S3Config{Bucket: "b", QueueSize: 1}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sink.OnRequestEnd(context.Background(), completedRequest())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnRequestEnd blocked on a full queue")
	}
	close(blocked)
	require.NoError(t, sink.Close())
}

type slowUploader struct {
	release chan struct{}
}

func (s *slowUploader) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	<-s.release
	return &s3.PutObjectOutput{}, nil
}
