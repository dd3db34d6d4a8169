// Package recognition runs one probe image through extraction, matching,
// decision and the attempt log.
//
// Every call that reaches a terminal state writes exactly one attempt record.
// Caller cancellation before the log step aborts without a record.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-gate/internal/audit"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/decision"
	"github.com/kozaktomas/face-gate/internal/embedding"
	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/gallery"
	"github.com/kozaktomas/face-gate/internal/matcher"
	"github.com/kozaktomas/face-gate/internal/metrics"
)

// State is a step of one recognition call.
type State string

const (
	StateReceived           State = "RECEIVED"
	StateEmbeddingExtracted State = "EMBEDDING_EXTRACTED"
	StateMatched            State = "MATCHED"
	StateDecided            State = "DECIDED"
	StateLogged             State = "LOGGED"
	StateAccepted           State = "ACCEPTED"
	StateRejected           State = "REJECTED"
	StateNoFace             State = "NO_FACE"
	StateError              State = "ERROR"
)

// Request is one probe.
type Request struct {
	Image    []byte
	ImageRef string
}

// Outcome is the result of Recognize. Kind mirrors the attempt outcome.
type Outcome struct {
	Kind       string // database.Outcome*
	IdentityID string // set only when accepted
	Score      float64
	Reason     string // rejection reason or error kind
	ErrorKind  string // set when Kind is error
	AttemptID  string
	State      State
	Duration   time.Duration
}

// Accepted reports whether the probe was accepted.
func (o Outcome) Accepted() bool {
	return o.Kind == database.OutcomeAccepted
}

// Config wires an Orchestrator.
type Config struct {
	Provider embedding.Provider
	Gallery  *gallery.Store
	Matcher  matcher.Matcher
	Policy   decision.Policy
	Audit    *audit.Logger
	Metrics  *metrics.Metrics // may be nil
	// EmbeddingTimeout bounds the provider call. 0 leaves it to the provider.
	EmbeddingTimeout time.Duration
}

// Orchestrator runs recognition calls. It is safe for concurrent use.
type Orchestrator struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Matcher == nil {
		cfg.Matcher = matcher.Linear{}
	}
	return &Orchestrator{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "recognition"),
	}
}

// call carries the state of one Recognize invocation.
type call struct {
	req   Request
	start time.Time
	state State
}

// Recognize matches the probe image against the gallery.
//
// Recoverable conditions (no face, rejection, provider timeout) are returned
// as outcomes with a nil error. Structural failures and a failed attempt write
// are returned as errors. A canceled ctx before the log step yields ctx.Err()
// and no attempt.
func (o *Orchestrator) Recognize(ctx context.Context, req Request) (Outcome, error) {
	c := &call{req: req, start: o.now(), state: StateReceived}

	face, found, err := o.extract(ctx, req.Image)
	if err != nil {
		return o.fail(ctx, c, err)
	}
	if !found {
		return o.finish(ctx, c, database.RecognitionAttempt{
			Outcome: database.OutcomeNoFace,
			Reason:  facegate.KindNoFace,
			Score:   database.SimilarityFloor,
		})
	}
	c.state = StateEmbeddingExtracted

	match, err := o.cfg.Matcher.FindBest(face.Embedding, o.cfg.Gallery.Snapshot())
	if err != nil {
		return o.fail(ctx, c, err)
	}
	c.state = StateMatched
	o.cfg.Metrics.ObserveMatchScore(match.Score)

	verdict := o.cfg.Policy.Decide(match)
	c.state = StateDecided
	if err := verdict.Err(); err != nil {
		o.logger.Debug("match rejected", "error", err, "identity", match.IdentityID, "score", match.Score)
	}

	attempt := database.RecognitionAttempt{
		Score:    match.Score,
		Accepted: verdict.Accepted,
		Outcome:  database.OutcomeRejected,
		Reason:   verdict.Reason,
	}
	if verdict.Accepted {
		attempt.Outcome = database.OutcomeAccepted
		attempt.IdentityID = match.IdentityID
	}
	return o.finish(ctx, c, attempt)
}

// extract runs the provider under the embedding timeout and picks the face
// with the highest detection score.
func (o *Orchestrator) extract(ctx context.Context, image []byte) (embedding.Face, bool, error) {
	callCtx := ctx
	if o.cfg.EmbeddingTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.EmbeddingTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := o.cfg.Provider.ExtractFaces(callCtx, image)
	o.cfg.Metrics.ObserveEmbeddingLatency("recognize", time.Since(start))
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, facegate.ErrProviderTimeout) {
			err = fmt.Errorf("%w: %w", facegate.ErrProviderTimeout, err)
		}
		return embedding.Face{}, false, err
	}

	face, ok := res.BestFace()
	return face, ok, nil
}

// fail records an error attempt for err. Structural errors are returned even
// when the record was written.
func (o *Orchestrator) fail(ctx context.Context, c *call, err error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{State: c.state}, ctxErr
	}
	kind := facegate.Kind(err)
	o.logger.Warn("recognition failed", "state", c.state, "kind", kind, "error", err)

	out, logErr := o.finish(ctx, c, database.RecognitionAttempt{
		Outcome: database.OutcomeError,
		Reason:  kind,
		Score:   database.SimilarityFloor,
	})
	if logErr != nil {
		return out, errors.Join(err, logErr)
	}
	if facegate.IsStructural(err) {
		return out, err
	}
	return out, nil
}

// finish performs the log step and moves the call to its terminal state.
func (o *Orchestrator) finish(ctx context.Context, c *call, attempt database.RecognitionAttempt) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{State: c.state}, err
	}

	elapsed := o.now().Sub(c.start)
	attempt.ProcessingDuration = elapsed
	attempt.ProbeImageRef = c.req.ImageRef

	stored, err := o.cfg.Audit.Record(ctx, attempt)
	if err != nil {
		o.cfg.Metrics.IncrementUnlogged()
		o.logger.Error("attempt not logged", "outcome", attempt.Outcome, "reason", attempt.Reason, "error", err)
		return Outcome{State: c.state, Duration: elapsed}, err
	}
	c.state = StateLogged

	out := Outcome{
		Kind:       stored.Outcome,
		IdentityID: stored.IdentityID,
		Score:      stored.Score,
		Reason:     stored.Reason,
		AttemptID:  stored.ID,
		State:      terminalState(stored.Outcome),
		Duration:   elapsed,
	}
	if stored.Outcome == database.OutcomeError {
		out.ErrorKind = stored.Reason
	}

	o.cfg.Metrics.IncrementOutcome(out.Kind, out.Reason)
	o.cfg.Metrics.ObserveRecognitionLatency(elapsed)
	o.logger.Info("recognition finished", "outcome", out.Kind, "identity", out.IdentityID,
		"score", out.Score, "reason", out.Reason, "attempt_id", out.AttemptID, "duration", elapsed)
	return out, nil
}

func terminalState(outcome string) State {
	switch outcome {
	case database.OutcomeAccepted:
		return StateAccepted
	case database.OutcomeRejected:
		return StateRejected
	case database.OutcomeNoFace:
		return StateNoFace
	default:
		return StateError
	}
}
