package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/reprowatch/internal/event"
	"github.com/roach88/reprowatch/internal/model"
	"github.com/roach88/reprowatch/internal/publish"
	"github.com/roach88/reprowatch/internal/rbtlog"
	"github.com/roach88/reprowatch/internal/state"
)

// Phase is a step of an application's pipeline.
type Phase string

const (
	PhaseFetching              Phase = "FETCHING"
	PhaseParsing               Phase = "PARSING"
	PhaseDiffing               Phase = "DIFFING"
	PhaseBuildingAssertion     Phase = "BUILDING_ASSERTION"
	PhasePublishingAssertion   Phase = "PUBLISHING_ASSERTION"
	PhaseBuildingAttestation   Phase = "BUILDING_ATTESTATION"
	PhasePublishingAttestation Phase = "PUBLISHING_ATTESTATION"
	PhaseRecording             Phase = "RECORDING"
	PhaseDone                  Phase = "DONE"
	PhaseFailed                Phase = "FAILED"
)

// ReleaseResolver finds the release coordinate an assertion should link to.
// An empty coordinate means no link.
type ReleaseResolver interface {
	ReleaseCoordinate(ctx context.Context, app model.AppSpec, version string) (string, error)
}

// RunConfig is everything one run needs besides its collaborators.
type RunConfig struct {
	Apps       []model.AppSpec
	SigningKey string
	Relays     []string

	// DryRun publishes through whatever Publisher the orchestrator holds
	// but never touches state.
	DryRun bool
}

// PublishedVersion is one version whose event pair was published.
type PublishedVersion struct {
	Version       string `json:"version"`
	VersionCode   int64  `json:"version_code"`
	Reproducible  bool   `json:"reproducible"`
	Release       string `json:"release,omitempty"`
	AssertionID   string `json:"assertion_event_id"`
	AttestationID string `json:"attestation_event_id"`
	Recorded      bool   `json:"recorded"`
}

// AppReport is the outcome for one application.
type AppReport struct {
	AppID       string             `json:"app_id"`
	Phase       Phase              `json:"phase"`
	FailedPhase Phase              `json:"failed_phase,omitempty"`
	Code        FailureCode        `json:"code,omitempty"`
	Error       string             `json:"error,omitempty"`
	Records     int                `json:"records"`
	Skipped     int                `json:"skipped"`
	Duplicates  int                `json:"duplicates"`
	Recorded    int                `json:"label_recorded,omitempty"`
	New         int                `json:"new"`
	Published   []PublishedVersion `json:"published"`

	err error
}

// Failed reports whether the application ended in FAILED.
func (r AppReport) Failed() bool {
	return r.Phase == PhaseFailed
}

// Err returns the failure, or nil.
func (r AppReport) Err() error {
	return r.err
}

// Report summarizes a run.
type Report struct {
	RunID  string      `json:"run_id"`
	DryRun bool        `json:"dry_run"`
	Apps   []AppReport `json:"apps"`
}

// AllFailed reports whether every application failed. A run with no
// applications has not failed.
func (r *Report) AllFailed() bool {
	if len(r.Apps) == 0 {
		return false
	}
	for _, a := range r.Apps {
		if !a.Failed() {
			return false
		}
	}
	return true
}

// Failures returns the number of failed applications.
func (r *Report) Failures() int {
	n := 0
	for _, a := range r.Apps {
		if a.Failed() {
			n++
		}
	}
	return n
}

// EventCount returns the number of events published.
func (r *Report) EventCount() int {
	n := 0
	for _, a := range r.Apps {
		n += 2 * len(a.Published)
	}
	return n
}

// Orchestrator runs the per-application pipeline.
type Orchestrator struct {
	source    rbtlog.Source
	store     state.Store
	publisher publish.Publisher
	releases  ReleaseResolver
	runIDs    RunIDGenerator
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReleaseResolver enables linking assertions to release events.
func WithReleaseResolver(r ReleaseResolver) Option {
	return func(o *Orchestrator) { o.releases = r }
}

// WithRunIDGenerator overrides the run id source.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(o *Orchestrator) { o.runIDs = g }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(source rbtlog.Source, store state.Store, publisher publish.Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:    source,
		store:     store,
		publisher: publisher,
		runIDs:    UUIDv7Generator{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes cfg.Apps in order.
//
// The returned error is non-nil only when the run as a whole could not
// proceed (state could not be loaded) or the final persist failed; per-app
// failures are reported in the Report.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig) (*Report, error) {
	report := &Report{RunID: o.runIDs.Generate(), DryRun: cfg.DryRun}
	log := o.logger.With(zap.String("run_id", report.RunID))
	log.Info("run started", zap.Int("apps", len(cfg.Apps)), zap.Bool("dry_run", cfg.DryRun))

	snap, err := o.store.Load(ctx)
	if err != nil {
		return report, &PipelineError{Code: ErrCodeStateFailed, Err: fmt.Errorf("load state: %w", err)}
	}

	for _, app := range cfg.Apps {
		p := &pipeline{
			o:      o,
			cfg:    cfg,
			app:    app,
			seen:   snap.App(app.ID),
			log:    log.With(zap.String("app", app.ID)),
			report: AppReport{AppID: app.ID, Published: []PublishedVersion{}},
		}
		p.run(ctx)
		report.Apps = append(report.Apps, p.report)
	}

	if !cfg.DryRun {
		if err := o.store.Persist(ctx); err != nil {
			return report, &PipelineError{Code: ErrCodeStateFailed, Err: fmt.Errorf("persist state: %w", err)}
		}
	}

	log.Info("run finished",
		zap.Int("apps", len(report.Apps)),
		zap.Int("failed", report.Failures()),
		zap.Int("events", report.EventCount()))
	return report, nil
}

// pipeline carries one application through its phases.
type pipeline struct {
	o      *Orchestrator
	cfg    RunConfig
	app    model.AppSpec
	seen   state.AppState
	log    *zap.Logger
	report AppReport
}

func (p *pipeline) enter(phase Phase) {
	p.report.Phase = phase
	p.log.Debug("phase", zap.String("phase", string(phase)))
}

func (p *pipeline) fail(code FailureCode, version string, err error) {
	pe := &PipelineError{Code: code, AppID: p.app.ID, Version: version, Phase: p.report.Phase, Err: err}
	p.report.FailedPhase = p.report.Phase
	p.report.Phase = PhaseFailed
	p.report.Code = code
	p.report.Error = err.Error()
	p.report.err = pe
	p.log.Error("app failed",
		zap.String("code", string(code)),
		zap.String("phase", string(pe.Phase)),
		zap.String("version", version),
		zap.Error(err))
}

func (p *pipeline) run(ctx context.Context) {
	p.enter(PhaseFetching)
	raw, err := p.o.source.Fetch(ctx, p.app)
	if err != nil {
		p.fail(ErrCodeFetchFailed, "", err)
		return
	}

	p.enter(PhaseParsing)
	parsed, err := rbtlog.Parse(raw)
	if err != nil {
		p.fail(ErrCodeParseFailed, "", err)
		return
	}
	if parsed.AppID != "" && parsed.AppID != p.app.ID {
		p.log.Warn("log names a different app", zap.String("log_appid", parsed.AppID))
	}
	for _, s := range parsed.Skipped {
		p.log.Warn("skipped malformed record",
			zap.Int("index", s.Index),
			zap.String("version", s.Version),
			zap.String("reason", s.Reason))
	}
	p.report.Records = len(parsed.Records)
	p.report.Skipped = len(parsed.Skipped)

	p.enter(PhaseDiffing)
	diff := Diff(parsed.Records, p.seen)
	for _, d := range diff.Duplicates {
		p.log.Warn("duplicate version code, later record wins",
			zap.Int64("version_code", d.VersionCode),
			zap.String("discarded_version", d.Version))
	}
	for _, d := range diff.SharedLabels {
		p.log.Warn("duplicate version label, later record wins",
			zap.String("version", d.Version),
			zap.Int64("discarded_version_code", d.VersionCode))
	}
	for _, r := range diff.LabelRecorded {
		p.log.Warn("version label already recorded under another code",
			zap.String("version", r.Version),
			zap.Int64("version_code", r.VersionCode))
	}
	p.report.Duplicates = len(diff.Duplicates) + len(diff.SharedLabels)
	p.report.Recorded = len(diff.LabelRecorded)
	p.report.New = len(diff.New)

	if len(diff.New) == 0 {
		p.log.Info("no new versions", zap.Int("records", len(parsed.Records)))
	}

	for _, rec := range diff.New {
		if !p.process(ctx, rec) {
			return
		}
	}
	p.enter(PhaseDone)
}

// process publishes and records one version. It returns false after
// failing the application.
func (p *pipeline) process(ctx context.Context, rec model.BuildRecord) bool {
	if err := ctx.Err(); err != nil {
		p.fail(ErrCodePublishFailed, rec.Version, err)
		return false
	}

	p.enter(PhaseBuildingAssertion)
	var opts []event.AssertionOption
	var release string
	if p.o.releases != nil {
		coord, err := p.o.releases.ReleaseCoordinate(ctx, p.app, rec.Version)
		if err != nil {
			p.fail(ErrCodeResolveFailed, rec.Version, err)
			return false
		}
		release = coord
		opts = append(opts, event.WithRelease(coord))
	}

	assertion := event.Assertion(p.app, rec, opts...)

	p.enter(PhasePublishingAssertion)
	assertionID, err := p.o.publisher.Publish(ctx, assertion, p.cfg.SigningKey, p.cfg.Relays)
	if err != nil {
		p.fail(ErrCodePublishFailed, rec.Version, err)
		return false
	}

	p.enter(PhaseBuildingAttestation)
	attestation := event.Attestation(p.app, rec, assertionID)

	p.enter(PhasePublishingAttestation)
	attestationID, err := p.o.publisher.Publish(ctx, attestation, p.cfg.SigningKey, p.cfg.Relays)
	if err != nil {
		p.fail(ErrCodePublishFailed, rec.Version, err)
		return false
	}

	pv := PublishedVersion{
		Version:       rec.Version,
		VersionCode:   rec.VersionCode,
		Reproducible:  rec.Reproducible,
		Release:       release,
		AssertionID:   assertionID,
		AttestationID: attestationID,
	}

	p.enter(PhaseRecording)
	if !p.cfg.DryRun {
		recorded, err := p.record(ctx, rec, assertionID, attestationID)
		pv.Recorded = recorded
		if err != nil {
			p.report.Published = append(p.report.Published, pv)
			p.fail(ErrCodeStateFailed, rec.Version, err)
			return false
		}
	}
	p.report.Published = append(p.report.Published, pv)

	p.log.Info("version published",
		zap.String("version", rec.Version),
		zap.Int64("version_code", rec.VersionCode),
		zap.Bool("reproducible", rec.Reproducible),
		zap.String("assertion_id", assertionID),
		zap.String("attestation_id", attestationID),
		zap.Bool("dry_run", p.cfg.DryRun))
	return true
}

// record stores and persists the entry. A conflict means another writer got
// there first; it is logged and not an error.
func (p *pipeline) record(ctx context.Context, rec model.BuildRecord, assertionID, attestationID string) (bool, error) {
	err := p.o.store.RecordProcessed(ctx, model.StateEntry{
		AppID:         p.app.ID,
		Version:       rec.Version,
		VersionCode:   rec.VersionCode,
		AssertionID:   assertionID,
		AttestationID: attestationID,
	})
	var conflict *state.ConflictError
	if errors.As(err, &conflict) {
		p.log.Warn("version already recorded", zap.Int64("version_code", rec.VersionCode), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record %s: %w", rec, err)
	}
	if err := p.o.store.Persist(ctx); err != nil {
		return true, fmt.Errorf("persist after %s: %w", rec, err)
	}
	return true, nil
}
