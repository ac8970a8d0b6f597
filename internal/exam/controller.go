package exam

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/hybridexam/internal/model"
)

// StartMarker is sent to the examiner in place of an answer when a session starts.
const StartMarker = "START_EXAM"

const (
	// DefaultCallTimeout bounds each examiner and coach call.
	DefaultCallTimeout = 30 * time.Second
	// DefaultMaxAnswers is the number of team answers after which the exam ends
	// even if the examiner never reports it over.
	DefaultMaxAnswers = 5
)

// Examiner grades the latest answer and proposes the next question.
type Examiner interface {
	Examine(ctx context.Context, transcript []model.Turn, answer string) (model.ExaminerDecision, error)
}

// Coach analyzes a finished session.
type Coach interface {
	Analyze(ctx context.Context, transcript []model.Turn, finalAnswer string) (model.PerformanceReport, error)
}

// Recorder archives session snapshots. Snapshots of one run may arrive out of
// order; Revision orders them. Errors are logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, rec model.ExamSessionRecord) error
}

// Options configures a Controller.
type Options struct {
	CallTimeout time.Duration
	MaxAnswers  int // <= 0 disables the cap
	Recorder    Recorder
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// Controller owns one exam session. All exported methods are safe for
// concurrent use; at most one examiner or coach call is outstanding at a time.
type Controller struct {
	id       string
	teamID   int64
	examiner Examiner
	coach    Coach
	opts     Options
	now      func() time.Time
	newRunID func() string

	mu          sync.Mutex
	state       model.ExamState
	runID       string
	revision    int64
	transcript  Transcript
	question    string
	feedback    string
	answered    int
	finalAnswer string
	closing     string
	report      *model.PerformanceReport
	startedAt   time.Time
	updatedAt   time.Time
	finishedAt  *time.Time
}

// NewController creates an idle session controller.
func NewController(id string, teamID int64, examiner Examiner, coach Coach, opts Options) *Controller {
	return &Controller{
		id:       id,
		teamID:   teamID,
		examiner: examiner,
		coach:    coach,
		opts:     opts.withDefaults(),
		now:      time.Now,
		newRunID: uuid.NewString,
		state:    model.StateIdle,
	}
}

// ID returns the session ID.
func (c *Controller) ID() string { return c.id }

// TeamID returns the owning team.
func (c *Controller) TeamID() int64 { return c.teamID }

// State returns the current exam state.
func (c *Controller) State() model.ExamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of everything the presentation layer may show.
func (c *Controller) Snapshot() model.ExamSessionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() model.ExamSessionRecord {
	rec := model.ExamSessionRecord{
		ID:             c.runID,
		SessionID:      c.id,
		TeamID:         c.teamID,
		Revision:       c.revision,
		State:          c.state,
		Question:       c.question,
		Feedback:       c.feedback,
		Answered:       c.answered,
		FinalAnswer:    c.finalAnswer,
		ClosingMessage: c.closing,
		StartedAt:      c.startedAt,
		UpdatedAt:      c.updatedAt,
		Transcript:     c.transcript.Turns(),
	}
	if c.finishedAt != nil {
		t := *c.finishedAt
		rec.FinishedAt = &t
	}
	if c.report != nil {
		r := *c.report
		rec.Report = &r
	}
	return rec
}

// Start begins a session from Idle. Examiner failures leave the controller
// Idle with an error in the feedback, so Start can be retried.
func (c *Controller) Start(ctx context.Context) error {
	return c.submit(ctx, StartMarker, true)
}

// SubmitAnswer sends the team's answer to the examiner. It is only accepted in
// Active. Remote failures are reported through the feedback, not the returned error.
func (c *Controller) SubmitAnswer(ctx context.Context, answer string) error {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return ErrEmptyAnswer
	}
	return c.submit(ctx, answer, false)
}

// Reset returns the controller to a freshly initialized Idle session.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.InFlight() {
		return ErrBusy
	}
	c.clearLocked()
	c.runID = ""
	c.startedAt = time.Time{}
	c.updatedAt = time.Time{}
	c.state = model.StateIdle
	slog.Info("exam session reset", "session", c.id)
	return nil
}

func (c *Controller) clearLocked() {
	c.transcript.Clear()
	c.question = ""
	c.feedback = ""
	c.answered = 0
	c.finalAnswer = ""
	c.closing = ""
	c.revision = 0
	c.report = nil
	c.finishedAt = nil
}

func (c *Controller) setStateLocked(s model.ExamState) {
	slog.Debug("exam state", "session", c.id, "from", c.state, "to", s)
	c.state = s
	c.revision++
	c.updatedAt = c.now()
}

func (c *Controller) submit(ctx context.Context, answer string, starting bool) error {
	c.mu.Lock()
	if c.state.InFlight() {
		c.mu.Unlock()
		return ErrBusy
	}
	want := model.StateActive
	if starting {
		want = model.StateIdle
	}
	if c.state != want {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	if starting {
		c.clearLocked()
		c.runID = c.newRunID()
		c.startedAt = c.now()
	}
	prior := c.transcript.Turns()
	answerNo := len(prior)/2 + 1
	c.setStateLocked(model.StateThinking)
	c.mu.Unlock()

	decision, err := c.callExaminer(ctx, prior, answer)
	if err == nil && starting && strings.TrimSpace(decision.NextQuestion) == "" {
		err = errNoQuestion
	}

	c.mu.Lock()
	if err != nil {
		slog.Warn("examiner call failed", "session", c.id, "starting", starting, "error", err)
		c.feedback = "Error: " + err.Error()
		if starting {
			c.setStateLocked(model.StateIdle)
		} else {
			c.setStateLocked(model.StateActive)
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.record(ctx, snap)
		return nil
	}

	over := !starting && (decision.ExamOver || (c.opts.MaxAnswers > 0 && answerNo >= c.opts.MaxAnswers))
	if !over && strings.TrimSpace(decision.NextQuestion) == "" {
		slog.Warn("examiner returned no question", "session", c.id)
		c.feedback = "Error: " + errNoQuestion.Error()
		c.setStateLocked(model.StateActive)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.record(ctx, snap)
		return nil
	}

	c.feedback = decision.Message
	if !over {
		if !starting {
			c.transcript.Append(
				model.Turn{Role: model.RoleTeam, Text: answer},
				model.Turn{Role: model.RoleExaminer, Text: decision.Message},
			)
			c.answered = answerNo
		}
		c.question = decision.NextQuestion
		c.setStateLocked(model.StateActive)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.record(ctx, snap)
		return nil
	}

	if !decision.ExamOver {
		slog.Info("answer limit reached, ending exam", "session", c.id, "answers", answerNo)
	}
	// The closing round stays out of the transcript but is archived with the run.
	c.answered = answerNo
	c.finalAnswer = answer
	c.closing = decision.Message
	c.question = ""
	c.setStateLocked(model.StateAnalyzing)
	c.mu.Unlock()

	c.requestReport(ctx, prior, answer)
	return nil
}

// requestReport runs the coach call and always lands in Finished.
func (c *Controller) requestReport(ctx context.Context, transcript []model.Turn, finalAnswer string) {
	report, err := c.callCoach(ctx, transcript, finalAnswer)

	c.mu.Lock()
	if err != nil {
		slog.Warn("coach call failed", "session", c.id, "error", err)
		c.feedback = "Error generating report: " + err.Error()
	} else {
		c.report = &report
		slog.Info("exam finished", "session", c.id, "team", c.teamID,
			"score", report.TeamScore, "collaboration", report.CollaborationLevel)
	}
	finished := c.now()
	c.finishedAt = &finished
	c.setStateLocked(model.StateFinished)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.record(ctx, snap)
}

func (c *Controller) callExaminer(ctx context.Context, transcript []model.Turn, answer string) (model.ExaminerDecision, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	return c.examiner.Examine(callCtx, transcript, answer)
}

func (c *Controller) callCoach(ctx context.Context, transcript []model.Turn, finalAnswer string) (model.PerformanceReport, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	return c.coach.Analyze(callCtx, transcript, finalAnswer)
}

func (c *Controller) record(ctx context.Context, rec model.ExamSessionRecord) {
	// A run is archived once the examiner has accepted the start.
	if c.opts.Recorder == nil || rec.ID == "" || rec.State == model.StateIdle {
		return
	}
	if err := c.opts.Recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("failed to record exam session", "session", c.id, "run", rec.ID, "error", err)
	}
}
