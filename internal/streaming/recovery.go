package streaming

import (
	"strings"
	"sync"
	"time"

	"github.com/exllm/exllm/pkg/pipeline"
)

// RecoveryState is the lifecycle state of one recovery record (§4.8).
type RecoveryState string

const (
	RecoveryActive      RecoveryState = "active"
	RecoveryInterrupted RecoveryState = "interrupted"
	RecoveryResuming    RecoveryState = "resuming"
	RecoveryCompleted   RecoveryState = "completed"
	RecoveryExpired     RecoveryState = "expired"
	RecoveryAbandoned   RecoveryState = "abandoned"
)

// ResumeStrategy selects how accumulated content is folded into the
// continuation request.
type ResumeStrategy string

const (
	// ResumeExact continues from the exact cutoff: the partial response
	// is appended as the assistant's previous turn, with a user message
	// asking to continue.
	ResumeExact ResumeStrategy = "exact"
	// ResumeParagraph drops any content after the last paragraph
	// boundary ("\n\n") before resuming.
	ResumeParagraph ResumeStrategy = "paragraph"
	// ResumeSummarize replaces the accumulated content with a generated
	// summary before requesting continuation.
	ResumeSummarize ResumeStrategy = "summarize"
)

// DefaultMaxAttempts is the default resume attempt ceiling (§4.8).
const DefaultMaxAttempts = 3

// DefaultRecoveryTTL is the default lifetime of a recovery record,
// counted from registration; the background sweeper reclaims records
// past it.
const DefaultRecoveryTTL = 30 * time.Minute

// ResumeBackoff returns the exponential backoff delay before resume
// attempt `attempt` (1-indexed): 1s, 2s, 4s, ... capped at 30s.
func ResumeBackoff(attempt int) time.Duration {
	d := time.Second << uint(attempt-1)
	if d > 30*time.Second || d <= 0 {
		d = 30 * time.Second
	}
	return d
}

// Summarizer produces a short summary of accumulated partial content,
// for ResumeSummarize. Core ships no LLM-backed implementation; callers
// wire one in, or summarize falls back to the paragraph-boundary rule.
type Summarizer func(accumulated string) string

// ClassifyStreamError reports whether err represents a recoverable
// mid-stream failure per §4.8: connection_closed, timeout, and
// connection_refused are recoverable; everything else (auth, 4xx other
// than 408/429, content-policy) is not.
func ClassifyStreamError(err error) (kind string, recoverable bool) {
	if err == nil {
		return "", false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unexpected eof"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"), strings.Contains(msg, "closed"):
		return "connection_closed", true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "timeout", true
	case strings.Contains(msg, "connection refused"):
		return "connection_refused", true
	default:
		return "non_recoverable", false
	}
}

// RecoveryRecord tracks one streaming recovery attempt sequence.
type RecoveryRecord struct {
	ID          string
	Strategy    ResumeStrategy
	MaxAttempts int

	mu          sync.Mutex
	state       RecoveryState
	accumulated strings.Builder
	attempts    int
	deadline    time.Time
}

func (r *RecoveryRecord) State() RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Append records newly-delivered content for later continuation.
func (r *RecoveryRecord) Append(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accumulated.WriteString(content)
}

// Accumulated returns the content recorded so far.
func (r *RecoveryRecord) Accumulated() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accumulated.String()
}

// MarkInterrupted transitions active -> interrupted.
func (r *RecoveryRecord) MarkInterrupted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecoveryActive {
		r.state = RecoveryInterrupted
	}
}

// BeginResume transitions interrupted -> resuming and increments the
// attempt counter. ok is false once MaxAttempts is exhausted.
func (r *RecoveryRecord) BeginResume() (attempt int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts >= r.MaxAttempts {
		r.state = RecoveryAbandoned
		return r.attempts, false
	}
	r.attempts++
	r.state = RecoveryResuming
	return r.attempts, true
}

// ResumeSucceeded transitions resuming -> active (a new chunk arrived).
func (r *RecoveryRecord) ResumeSucceeded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecoveryResuming {
		r.state = RecoveryActive
	}
}

// Complete transitions to the terminal completed state.
func (r *RecoveryRecord) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RecoveryCompleted
}

// Abandon transitions to the terminal abandoned state.
func (r *RecoveryRecord) Abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RecoveryAbandoned
}

// RecoveryRegistry is the process-wide, single-writer-per-key keyed
// store of in-flight recoveries (§3 Lifecycle, §9 design note): a
// concurrent map keyed by recovery_id, with a background sweeper
// reclaiming entries whose TTL has elapsed.
type RecoveryRegistry struct {
	mu       sync.RWMutex
	records  map[string]*RecoveryRecord
	ttl      time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRecoveryRegistry starts a registry with the given TTL (default
// DefaultRecoveryTTL if ttl <= 0) and its background sweeper goroutine.
func NewRecoveryRegistry(ttl time.Duration) *RecoveryRegistry {
	if ttl <= 0 {
		ttl = DefaultRecoveryTTL
	}
	reg := &RecoveryRegistry{
		records: make(map[string]*RecoveryRecord),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go reg.sweepLoop()
	return reg
}

// Register creates and stores a new active RecoveryRecord for id.
func (reg *RecoveryRegistry) Register(id string, strategy ResumeStrategy, maxAttempts int) *RecoveryRecord {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	rec := &RecoveryRecord{
		ID:          id,
		Strategy:    strategy,
		MaxAttempts: maxAttempts,
		state:       RecoveryActive,
		deadline:    time.Now().Add(reg.ttl),
	}
	reg.mu.Lock()
	reg.records[id] = rec
	reg.mu.Unlock()
	return rec
}

// Get looks up a recovery record by id.
func (reg *RecoveryRegistry) Get(id string) (*RecoveryRecord, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rec, ok := reg.records[id]
	return rec, ok
}

// Remove deletes a recovery record, e.g. once it reaches a terminal
// state and the caller has observed it.
func (reg *RecoveryRegistry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.records, id)
}

// Len reports the number of tracked records, for tests/observability.
func (reg *RecoveryRegistry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.records)
}

// Close stops the background sweeper.
func (reg *RecoveryRegistry) Close() {
	reg.stopOnce.Do(func() { close(reg.stopCh) })
}

func (reg *RecoveryRegistry) sweepLoop() {
	ticker := time.NewTicker(reg.ttl / 10)
	if reg.ttl < 10*time.Second {
		ticker.Reset(time.Second)
	}
	defer ticker.Stop()
	for {
		select {
		case <-reg.stopCh:
			return
		case <-ticker.C:
			reg.sweep()
		}
	}
}

func (reg *RecoveryRegistry) sweep() {
	now := time.Now()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, rec := range reg.records {
		rec.mu.Lock()
		expired := now.After(rec.deadline)
		terminal := rec.state == RecoveryCompleted || rec.state == RecoveryAbandoned || rec.state == RecoveryExpired
		if expired && rec.state != RecoveryExpired && !terminal {
			rec.state = RecoveryExpired
		}
		shouldDelete := terminal || rec.state == RecoveryExpired
		rec.mu.Unlock()
		if shouldDelete && expired {
			delete(reg.records, id)
		}
	}
}

// ApplyResumeStrategy trims accumulated content per strategy and
// returns the text to fold into the continuation request.
func ApplyResumeStrategy(strategy ResumeStrategy, accumulated string, summarize Summarizer) string {
	switch strategy {
	case ResumeParagraph:
		if idx := strings.LastIndex(accumulated, "\n\n"); idx >= 0 {
			return accumulated[:idx]
		}
		return accumulated
	case ResumeSummarize:
		if summarize != nil {
			return summarize(accumulated)
		}
		// No summarizer wired in: fall back to the paragraph rule rather
		// than resending the full accumulated text verbatim.
		return ApplyResumeStrategy(ResumeParagraph, accumulated, nil)
	default: // ResumeExact
		return accumulated
	}
}

// ProviderFamily groups providers that share a continuation-formatting
// convention.
type ProviderFamily string

const (
	FamilyOpenAI    ProviderFamily = "openai" // also Groq, and OpenAI-compatible providers
	FamilyAnthropic ProviderFamily = "anthropic"
	FamilyGemini    ProviderFamily = "gemini"
)

// ContinuationMessages builds the message list for a resume request by
// appending the provider-appropriate continuation turns to the original
// conversation, per §4.8's "Provider-specific continuation formatters".
func ContinuationMessages(family ProviderFamily, original []pipeline.Message, partial string) []pipeline.Message {
	out := append([]pipeline.Message(nil), original...)
	switch family {
	case FamilyAnthropic:
		out = append(out,
			pipeline.Message{Role: "assistant", Content: partial},
			pipeline.Message{Role: "user", Content: "continue"},
		)
	case FamilyGemini:
		out = append(out,
			pipeline.Message{Role: "model", Content: partial},
			pipeline.Message{Role: "user", Content: "continue"},
		)
	default: // FamilyOpenAI (and Groq, and other OpenAI-compatible providers)
		out = append(out,
			pipeline.Message{Role: "system", Content: "Partial response so far: " + partial},
			pipeline.Message{Role: "user", Content: "continue"},
		)
	}
	return out
}
