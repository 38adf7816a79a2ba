// Package pipeline sequences the scrape and clean stages and tracks the
// state of each.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/bookpipe/config"
	"github.com/aluiziolira/bookpipe/models"
)

var (
	// ErrStageRunning is returned when a stage is started while another one
	// is still running on the same pipeline.
	ErrStageRunning = errors.New("pipeline: stage already running")
)

// Scraper produces the raw record file.
type Scraper interface {
	Run(ctx context.Context) (*models.ScrapeResult, error)
}

// Cleaner turns a raw record file into the validated output.
type Cleaner interface {
	Run(ctx context.Context, inputPath string) (*models.CleanResult, error)
}

// StageReport describes one stage run. Running a stage again replaces its
// report with a new one; a report in a terminal state is never modified.
type StageReport struct {
	Name      string
	Attempt   int
	State     models.StageState
	Path      string
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

// Duration is zero until the stage reached a terminal state.
func (r StageReport) Duration() time.Duration {
	if !r.State.Terminal() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Result holds the reports of both stages and their detailed outputs.
type Result struct {
	Scrape StageReport
	Clean  StageReport

	ScrapeResult *models.ScrapeResult
	CleanResult  *models.CleanResult
}

// Err returns the first stage error, if any.
func (r *Result) Err() error {
	if r.Scrape.Err != nil {
		return r.Scrape.Err
	}
	return r.Clean.Err
}

// Pipeline runs the stages strictly one after another. Neither stage is
// retried.
type Pipeline struct {
	cfg     *config.Config
	scraper Scraper
	cleaner Cleaner

	mu      sync.Mutex // guards result/running
	result  Result
	running bool
}

// New wires a pipeline from its two stages.
func New(cfg *config.Config, scraper Scraper, cleaner Cleaner) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		scraper: scraper,
		cleaner: cleaner,
		result: Result{
			Scrape: StageReport{Name: "scrape", State: models.StageIdle},
			Clean:  StageReport{Name: "clean", State: models.StageIdle},
		},
	}
}

// Run scrapes, then cleans the file the scrape stage wrote. A failed scrape
// leaves the clean stage idle, even when an earlier Run cleaned successfully.
func (p *Pipeline) Run(ctx context.Context) *Result {
	p.mu.Lock()
	if !p.running {
		p.result.Clean = StageReport{Name: p.result.Clean.Name, Attempt: p.result.Clean.Attempt, State: models.StageIdle}
		p.result.CleanResult = nil
	}
	p.mu.Unlock()

	if _, err := p.Scrape(ctx); err != nil {
		slog.Error("scrape stage failed, skipping clean", slog.Any("error", err))
		return p.Status()
	}

	status := p.Status()
	if _, err := p.Clean(ctx, status.Scrape.Path); err != nil {
		slog.Error("clean stage failed", slog.Any("error", err))
	}
	return p.Status()
}

// Scrape runs only the scrape stage.
func (p *Pipeline) Scrape(ctx context.Context) (*models.ScrapeResult, error) {
	if err := p.begin(&p.result.Scrape); err != nil {
		return nil, err
	}

	result, err := p.scraper.Run(ctx)
	path := ""
	if result != nil {
		path = result.OutputPath
		if result.AbortErr != nil && err == nil {
			slog.Warn("scrape stopped early, keeping partial results",
				slog.Int("records", len(result.Records)),
				slog.Any("error", result.AbortErr),
			)
		}
	}
	if err != nil {
		err = fmt.Errorf("scrape: %w", err)
	}

	p.mu.Lock()
	p.result.ScrapeResult = result
	p.mu.Unlock()
	p.finish(&p.result.Scrape, path, err)
	return result, err
}

// Clean runs only the clean stage against inputPath. An empty inputPath
// falls back to the configured raw output file.
func (p *Pipeline) Clean(ctx context.Context, inputPath string) (*models.CleanResult, error) {
	if inputPath == "" {
		inputPath = p.cfg.RawOutputFile
	}
	if err := p.begin(&p.result.Clean); err != nil {
		return nil, err
	}

	result, err := p.cleaner.Run(ctx, inputPath)
	path := ""
	if result != nil {
		path = result.OutputPath
	}
	if err != nil {
		err = fmt.Errorf("clean: %w", err)
	}

	p.mu.Lock()
	p.result.CleanResult = result
	p.mu.Unlock()
	p.finish(&p.result.Clean, path, err)
	return result, err
}

// Status returns a snapshot of both stage reports.
func (p *Pipeline) Status() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := p.result
	return &snapshot
}

func (p *Pipeline) begin(stage *StageReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrStageRunning
	}
	p.running = true
	*stage = StageReport{
		Name:      stage.Name,
		Attempt:   stage.Attempt + 1,
		State:     models.StageRunning,
		StartTime: time.Now(),
	}
	slog.Info("stage started", slog.String("stage", stage.Name), slog.Int("attempt", stage.Attempt))
	return nil
}

func (p *Pipeline) finish(stage *StageReport, path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if stage.State != models.StageRunning {
		return
	}
	stage.EndTime = time.Now()
	stage.Path = path
	stage.Err = err
	if err != nil {
		stage.State = models.StageFailed
		return
	}
	stage.State = models.StageSucceeded
	slog.Info("stage finished",
		slog.String("stage", stage.Name),
		slog.String("path", path),
		slog.Duration("duration", stage.EndTime.Sub(stage.StartTime)),
	)
}
