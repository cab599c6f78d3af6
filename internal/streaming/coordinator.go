package streaming

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/exllm/exllm/pkg/errors"
)

// ResumeFunc issues a provider-specific continuation request for the
// accumulated partial content and returns the new response body stream.
type ResumeFunc func(ctx context.Context, partial string) (io.ReadCloser, error)

// CoordinatorConfig wires one stream's coordinator.
type CoordinatorConfig struct {
	StreamID string
	Provider string
	Parser   ChunkParser
	Flow     FlowControlConfig
	Callback func(Chunk)
	Logger   *slog.Logger

	// NDJSON switches framing from SSE events to one JSON object per
	// line (Ollama).
	NDJSON bool

	// Recovery wiring; Resume nil disables recovery.
	Recovery    *RecoveryRegistry
	RecoveryID  string
	Strategy    ResumeStrategy
	MaxAttempts int
	Resume      ResumeFunc
	Summarizer  Summarizer
}

// Coordinator owns the producer half of a stream: it reads response
// bytes, frames them, parses chunks, and pushes them into the flow
// controller whose consumer invokes the user callback. On a recoverable
// mid-stream failure it drives the resume loop against the recovery
// record.
type Coordinator struct {
	cfg  CoordinatorConfig
	fc   *FlowController
	log  *slog.Logger
	rec  *RecoveryRecord

	sawFinish  bool
	lastModel  string
	lastUsage  *Chunk
	delivered  sync.WaitGroup
}

// NewCoordinator builds a coordinator and, when recovery is enabled,
// registers its recovery record.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Coordinator{
		cfg: cfg,
		fc:  NewFlowController(cfg.Flow),
		log: cfg.Logger,
	}
	if cfg.Recovery != nil && cfg.Resume != nil {
		c.rec = cfg.Recovery.Register(cfg.RecoveryID, cfg.Strategy, cfg.MaxAttempts)
	}
	return c
}

// FlowController exposes the stream's flow controller, for metrics and
// cancellation.
func (c *Coordinator) FlowController() *FlowController { return c.fc }

// Run consumes the response body to completion, blocking until every
// delivered chunk has been handed to the callback. It returns nil on a
// clean end of stream and a stream_interrupted PipelineError when the
// stream died and recovery was exhausted or inapplicable.
func (c *Coordinator) Run(ctx context.Context, body io.ReadCloser) error {
	c.delivered.Add(1)
	go func() {
		defer c.delivered.Done()
		c.fc.Run(ctx, func(payload any) {
			switch v := payload.(type) {
			case []any:
				for _, item := range v {
					c.cfg.Callback(item.(Chunk))
				}
			case Chunk:
				c.cfg.Callback(v)
			}
		})
	}()

	err := c.produce(ctx, body)

	if ctx.Err() != nil {
		// Cancellation: drop buffered chunks, tell the caller exactly once.
		c.fc.Cancel()
		c.delivered.Wait()
		c.cfg.Callback(Chunk{Done: true, FinishReason: "cancelled", Model: c.lastModel})
		if c.rec != nil {
			c.rec.Abandon()
		}
		return &errors.PipelineError{Kind: errors.KindCancelled, Provider: c.cfg.Provider, Message: "stream cancelled"}
	}

	if err != nil {
		c.fc.Done()
		c.delivered.Wait()
		c.cfg.Callback(Chunk{Done: true, FinishReason: "error", Model: c.lastModel})
		if c.rec != nil {
			c.rec.Abandon()
		}
		return err
	}

	c.fc.Done()
	c.delivered.Wait()
	final := Chunk{Done: true, FinishReason: "stop", Model: c.lastModel}
	if c.lastUsage != nil {
		final.Usage = c.lastUsage.Usage
	}
	if c.sawFinish && c.lastUsage == nil {
		// finish_reason was already delivered on the terminal content
		// chunk; the done marker still closes the stream for the caller.
		final.FinishReason = "stop"
	}
	c.cfg.Callback(final)
	if c.rec != nil {
		c.rec.Complete()
		c.cfg.Recovery.Remove(c.rec.ID)
	}
	return nil
}

// produce reads the stream to a clean end, resuming through the
// recovery record when the connection dies mid-stream.
func (c *Coordinator) produce(ctx context.Context, body io.ReadCloser) error {
	for {
		readErr := c.consumeBody(ctx, body)
		if readErr == nil {
			return nil // clean [DONE] / done=true / EOF after finish
		}
		if ctx.Err() != nil {
			return readErr
		}

		kind, recoverable := ClassifyStreamError(readErr)
		if c.sawFinish {
			// The provider already delivered a terminal chunk; a dirty
			// socket close after that is a normal end of stream.
			return nil
		}
		if !recoverable || c.rec == nil {
			return c.interrupted(readErr)
		}

		c.rec.MarkInterrupted()
		attempt, ok := c.rec.BeginResume()
		if !ok {
			return c.interrupted(readErr)
		}
		c.log.Warn("stream interrupted, resuming",
			"stream_id", c.cfg.StreamID, "provider", c.cfg.Provider,
			"kind", kind, "attempt", attempt)

		select {
		case <-ctx.Done():
			return readErr
		case <-time.After(ResumeBackoff(attempt)):
		}

		partial := ApplyResumeStrategy(c.rec.Strategy, c.rec.Accumulated(), c.cfg.Summarizer)
		newBody, resumeErr := c.cfg.Resume(ctx, partial)
		if resumeErr != nil {
			c.log.Warn("resume request failed",
				"stream_id", c.cfg.StreamID, "attempt", attempt, "error", resumeErr)
			c.rec.MarkInterrupted()
			continue
		}
		c.rec.ResumeSucceeded()
		body = newBody
	}
}

// consumeBody reads one response body to its end, pushing parsed chunks
// into the flow controller. A nil return means the stream ended cleanly.
func (c *Coordinator) consumeBody(ctx context.Context, body io.ReadCloser) error {
	defer body.Close()

	framer := NewFramer()
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := body.Read(buf)
		if n > 0 {
			var done bool
			if c.cfg.NDJSON {
				done = c.feedLines(ctx, framer, buf[:n])
			} else {
				done = c.feedFrames(ctx, framer, buf[:n])
			}
			if done {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				if c.sawFinish {
					return nil
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}

// feedFrames runs SSE framing over the bytes, returning true when the
// [DONE] sentinel arrived.
func (c *Coordinator) feedFrames(ctx context.Context, framer *Framer, data []byte) bool {
	frames, malformed := framer.Feed(data)
	for _, bad := range malformed {
		c.log.Debug("dropped malformed SSE line",
			"stream_id", c.cfg.StreamID, "line", bad.Line)
	}
	for _, frame := range frames {
		if IsDone(frame) {
			return true
		}
		c.handlePayload(ctx, []byte(frame.Data))
	}
	return false
}

// feedLines treats every terminated line as one event payload (NDJSON).
// The SSE framer's line accumulation is reused through FeedRaw, without
// SSE field parsing.
func (c *Coordinator) feedLines(ctx context.Context, framer *Framer, data []byte) bool {
	for _, line := range splitLines(framer, data) {
		if len(line) == 0 {
			continue
		}
		if done := c.handlePayload(ctx, line); done {
			return true
		}
	}
	return false
}

// handlePayload parses one event payload and pushes the chunk. It
// returns true when the chunk itself marks the stream done (NDJSON).
func (c *Coordinator) handlePayload(ctx context.Context, payload []byte) bool {
	wc, err := c.cfg.Parser.ParseChunk(payload)
	if err != nil {
		c.log.Debug("dropped unparseable chunk",
			"stream_id", c.cfg.StreamID, "error", err)
		return false
	}
	if wc == nil {
		return false
	}

	chunk := FromWire(wc)
	c.lastModel = chunk.Model
	if chunk.Usage != nil {
		c.lastUsage = &chunk
	}
	if chunk.FinishReason != "" {
		c.sawFinish = true
	}
	if chunk.Content != "" && c.rec != nil {
		c.rec.Append(chunk.Content)
	}
	c.fc.Push(ctx, chunk, len(payload))

	// Ollama marks completion on the chunk rather than with a sentinel.
	if c.cfg.NDJSON && wc.Choices != nil && len(wc.Choices) > 0 && wc.Choices[0].FinishReason != "" {
		return true
	}
	return false
}

func (c *Coordinator) interrupted(cause error) error {
	return &errors.PipelineError{
		Kind:     errors.KindStreamInterrupted,
		Provider: c.cfg.Provider,
		Message:  "stream interrupted: " + cause.Error(),
		Details:  cause,
	}
}

// splitLines feeds data through the framer's pending-line buffer and
// returns the completed lines. It reuses the framer's boundary-safe
// accumulation without SSE field grouping.
func splitLines(f *Framer, data []byte) [][]byte {
	return f.FeedRaw(data)
}
