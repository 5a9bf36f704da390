package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// InputType hints the provider whether a text is a stored document or a
// retrieval query; some models embed the two asymmetrically.
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// Provider is the external embedding service. A successful call returns
// one fixed-dimension vector per input text, in input order.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string, input InputType) ([][]float32, error)
}

type Config struct {
	BatchSize         int
	RequestsPerMinute int
	MaxAttempts       int
	// RequestTimeout bounds a single provider call.
	RequestTimeout time.Duration
	// WaitTimeout bounds how long a submitted request may sit in the
	// queue plus retries before its waiter gives up.
	WaitTimeout time.Duration
	Dimensions  int

	FailureLimit int
	Cooldown     time.Duration

	// RetryBaseDelay is doubled per attempt for transient errors.
	// RateLimitBaseDelay does the same for 429s and must be longer.
	RetryBaseDelay     time.Duration
	RateLimitBaseDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 2 * time.Minute
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RateLimitBaseDelay <= 0 {
		c.RateLimitBaseDelay = 2 * time.Second
	}
}

type result struct {
	vector []float32
	err    error
}

type request struct {
	text  string
	input InputType
	out   chan result
}

// Pipeline owns the process-wide embedding queue, pacing and breaker
// state. Batches are serialized: a new provider call never starts while
// one is in flight, because the upstream rate limit is shared by the
// whole process. Construct once and inject.
type Pipeline struct {
	cfg      Config
	provider Provider
	limiter  *rate.Limiter
	brk      *breaker

	queue chan *request
	stop  chan struct{}
	done  chan struct{}
}

func NewPipeline(provider Provider, cfg Config) (*Pipeline, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding: provider is required")
	}
	cfg.applyDefaults()
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding: dimensions must be positive")
	}

	p := &Pipeline{
		cfg:      cfg,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		brk:      newBreaker(cfg.FailureLimit, cfg.Cooldown),
		queue:    make(chan *request, cfg.BatchSize*4),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Close stops the drain loop. Requests still queued are rejected.
func (p *Pipeline) Close() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}

// Embed submits one text and waits for its vector.
func (p *Pipeline) Embed(ctx context.Context, text string, input InputType) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text}, input)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedQuery embeds one retrieval query.
func (p *Pipeline) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.Embed(ctx, text, InputQuery)
}

// EmbedBatch submits texts to the shared queue and waits for all of
// them. Vectors come back in submission order. Each waiter is raced
// independently against ctx and the wait timeout, so one slow request
// cannot wedge siblings that already resolved.
func (p *Pipeline) EmbedBatch(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, wrap(KindValidation, fmt.Errorf("empty text at index %d", i))
		}
	}

	reqs := make([]*request, len(texts))
	for i, t := range texts {
		reqs[i] = &request{text: t, input: input, out: make(chan result, 1)}
	}

	for _, r := range reqs {
		select {
		case p.queue <- r:
		case <-p.stop:
			return nil, wrap(KindTransient, fmt.Errorf("pipeline closed"))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	deadline := time.NewTimer(p.cfg.WaitTimeout)
	defer deadline.Stop()

	vectors := make([][]float32, len(reqs))
	for i, r := range reqs {
		select {
		case res := <-r.out:
			if res.err != nil {
				return nil, res.err
			}
			vectors[i] = res.vector
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, wrap(KindTransient, fmt.Errorf("timed out waiting for embedding result"))
		}
	}
	return vectors, nil
}

// run drains the queue in bounded batches, one provider call in flight
// at a time.
func (p *Pipeline) run() {
	defer close(p.done)

	// carry holds a request of a different input type pulled while
	// gathering; it seeds the next batch instead of being re-queued.
	var carry *request

	for {
		first := carry
		carry = nil
		if first == nil {
			select {
			case first = <-p.queue:
			case <-p.stop:
				p.rejectQueued()
				return
			}
		}

		batch := []*request{first}
	gather:
		for len(batch) < p.cfg.BatchSize {
			select {
			case r := <-p.queue:
				// Batches must be homogeneous in input type; a
				// straggler of a different type starts the next batch.
				if r.input != first.input {
					carry = r
					break gather
				}
				batch = append(batch, r)
			default:
				break gather
			}
		}

		p.processBatch(batch)
	}
}

func (p *Pipeline) rejectQueued() {
	for {
		select {
		case r := <-p.queue:
			r.out <- result{err: wrap(KindTransient, fmt.Errorf("pipeline closed"))}
		default:
			return
		}
	}
}

func (p *Pipeline) processBatch(batch []*request) {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.text
	}

	vectors, err := p.callWithRetry(batch[0].input, texts)
	if err != nil {
		// A failed batch rejects every pending request with the same error.
		for _, r := range batch {
			r.out <- result{err: err}
		}
		return
	}

	if len(vectors) != len(batch) {
		err := wrap(KindValidation, fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(batch)))
		for _, r := range batch {
			r.out <- result{err: err}
		}
		return
	}

	for i, r := range batch {
		if verr := p.validateVector(vectors[i]); verr != nil {
			r.out <- result{err: verr}
			continue
		}
		r.out <- result{vector: vectors[i]}
	}
}

func (p *Pipeline) callWithRetry(input InputType, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if !p.brk.allow(time.Now()) {
			return nil, wrap(KindCircuitOpen, fmt.Errorf("circuit open, skipping provider call"))
		}

		// Inter-batch pacing: the limiter spaces provider calls to the
		// configured requests-per-minute budget.
		if err := p.limiter.Wait(context.Background()); err != nil {
			return nil, wrap(KindTransient, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
		vectors, err := p.provider.EmbedBatch(ctx, texts, input)
		cancel()

		if err == nil {
			p.brk.success()
			return vectors, nil
		}

		p.brk.failure(time.Now())
		kind := KindOf(err)
		lastErr = wrap(kind, err)

		switch kind {
		case KindNonRetryable, KindValidation:
			return nil, lastErr
		}

		if attempt+1 < p.cfg.MaxAttempts {
			delay := p.RetryDelay(kind, attempt)
			slog.Warn("embedding batch failed, retrying",
				"kind", kind.String(), "attempt", attempt+1, "delay", delay, "batch_size", len(texts))
			select {
			case <-time.After(delay):
			case <-p.stop:
				return nil, wrap(KindTransient, fmt.Errorf("pipeline closed during retry"))
			}
		}
	}
	return nil, lastErr
}

// RetryDelay computes the backoff before the next attempt. Rate-limit
// errors back off from a strictly longer base than generic transient
// errors.
func (p *Pipeline) RetryDelay(kind Kind, attempt int) time.Duration {
	base := p.cfg.RetryBaseDelay
	if kind == KindRateLimited {
		base = p.cfg.RateLimitBaseDelay
	}
	return base << uint(attempt)
}

func (p *Pipeline) validateVector(vec []float32) error {
	if len(vec) != p.cfg.Dimensions {
		return wrap(KindValidation, fmt.Errorf("expected %d dimensions, got %d", p.cfg.Dimensions, len(vec)))
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return wrap(KindValidation, fmt.Errorf("non-finite value at dimension %d", i))
		}
	}
	return nil
}
