package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"forge/internal/baseline"
	"forge/internal/broadcast"
	"forge/internal/jobconfig"
	"forge/internal/jobs"
	"forge/internal/language"
	"forge/internal/logging"
	"forge/internal/preprocess"
	"forge/internal/worker"
)

// Stage names recorded in the process table.
const (
	StagePrescrape = "prescrape"
	StageDiscovery = "discovery"
	StagePipeline  = "pipeline"
	StageResolve   = "resolve"
)

const (
	phasePre       = "pre"
	phaseDiscovery = "discovery"
)

// preScrape builds the domain's reference corpus with the scraper when a
// scraper config is registered and no corpus exists yet.
func (r *run) preScrape() {
	if r.ctx.Err() != nil {
		return
	}
	sum := r.doc.Summary()
	if sum.Domain == "" {
		return
	}
	dir := sum.SeekersOutputDir
	if dir == "" {
		if b := r.registeredBaseline(sum.Domain); b != nil {
			dir = b.OutputDir
			if baseline.Exists(dir) {
				r.useBaseline(dir)
				r.log(jobs.LevelInfo, "", fmt.Sprintf("Auto-detected baseline for %q: %d reference(s)", sum.Domain, b.RefsCount))
				return
			}
		}
	}
	if baseline.Exists(dir) {
		return
	}
	scraperConfig, ok := baseline.ScraperConfig(r.o.cfg.Baseline.Domains, sum.Domain)
	if !ok {
		return
	}
	if dir == "" {
		dir = baseline.DomainDir(r.o.cfg.Paths.BaselinesDir, sum.Domain)
	}

	binary, prefix, err := worker.CommandLine(r.o.cfg.Worker.ScraperCommand)
	if err == nil {
		err = os.MkdirAll(dir, 0o755)
	}
	var tmpConfig string
	if err == nil {
		tmpConfig, err = baseline.WriteScrapeConfig(dir, scraperConfig)
	}
	if err != nil {
		r.log(jobs.LevelWarn, "", fmt.Sprintf("Baseline scrape could not be prepared (%v), continuing without pre-scraped baseline", err))
		return
	}
	defer os.Remove(tmpConfig)

	r.log(jobs.LevelInfo, "", fmt.Sprintf("Pre-scraping baseline for domain %q...", sum.Domain))
	res, err := r.runWorker(StagePrescrape, worker.Command{
		Binary: binary,
		Args:   append(prefix, baseline.ScrapeArgs(tmpConfig)...),
		Env:    r.settings.baseEnv(),
	}, r.debugLine)
	if r.ctx.Err() != nil {
		return
	}

	record := jobs.Baseline{Domain: sum.Domain, OutputDir: dir, Status: jobs.BaselineFailed}
	switch {
	case err != nil:
		r.log(jobs.LevelWarn, "", fmt.Sprintf("Baseline scrape failed to start (%v), continuing without pre-scraped baseline", err))
	case !res.Success():
		r.log(jobs.LevelWarn, "", fmt.Sprintf("Baseline scrape failed (code %d), continuing without pre-scraped baseline", res.ExitCode))
	case !baseline.Exists(dir):
		r.log(jobs.LevelWarn, "", "Baseline scrape produced no output, continuing without pre-scraped baseline")
	default:
		now := time.Now().UTC()
		record.Status = jobs.BaselineReady
		record.RefsCount = baseline.CountReferences(dir)
		record.LastScrapedAt = &now
		r.useBaseline(dir)
		r.log(jobs.LevelInfo, "", "Baseline scraped successfully")
	}
	if _, err := r.o.store.UpsertBaseline(r.dbCtx, record); err != nil {
		logging.WarnWithContext(r.logger, "record baseline failed", "baseline_record_failed", logging.Error(err))
	}
}

func (r *run) registeredBaseline(domain string) *jobs.Baseline {
	b, err := r.o.store.BaselineForDomain(r.dbCtx, domain)
	if err != nil {
		logging.WarnWithContext(r.logger, "baseline lookup failed", "baseline_lookup_failed", logging.Error(err))
		return nil
	}
	if b == nil || b.Status != jobs.BaselineReady {
		return nil
	}
	return b
}

// useBaseline points the job config at dir.
func (r *run) useBaseline(dir string) {
	r.doc.Set(jobconfig.KeySeekersOutputDir, dir)
	r.saveDocument()
}

// discoverBaseline runs the 5-step discovery worker when the job has no
// baseline and discovery is allowed.
func (r *run) discoverBaseline() {
	if r.ctx.Err() != nil || !r.o.cfg.Discovery.Enabled {
		return
	}
	sum := r.doc.Summary()
	if sum.SeekersOutputDir != "" || !sum.AutoDiscoverBaseline || sum.Domain == "" || r.settings.APIKey == "" {
		return
	}
	lang := r.o.cfg.Discovery.Language
	if sum.Language != "" {
		normalized, err := language.Normalize(sum.Language)
		if err != nil {
			r.log(jobs.LevelWarn, phaseDiscovery, fmt.Sprintf("Ignoring job language (%v), using %s", err, language.DisplayName(lang)))
		} else {
			lang = normalized
		}
	}
	if lang == "" {
		lang = "en"
	}
	outDir := r.ws.BaselineDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		r.log(jobs.LevelWarn, phaseDiscovery, fmt.Sprintf("Auto-discovery could not prepare %s (%v), continuing without", outDir, err))
		return
	}

	args := []string{
		r.settings.toolCLI(), "discover-baseline",
		"--domain", sum.Domain,
		"--language", lang,
		"--output", outDir,
		"--max-refs", strconv.Itoa(r.o.cfg.Discovery.MaxRefs),
		"--api-key", r.settings.APIKey,
	}
	args = append(args, r.settings.modelArgs()...)

	r.log(jobs.LevelInfo, phaseDiscovery, fmt.Sprintf("Auto-discovering %s baseline for domain %q...", language.DisplayName(lang), sum.Domain))
	tracker := &stepTracker{r: r}
	res, err := r.runWorker(StageDiscovery, worker.Command{
		Binary: r.settings.Python,
		Args:   args,
		Env:    r.settings.baseEnv(),
	}, tracker.line)
	if r.ctx.Err() != nil {
		return
	}
	ok := err == nil && res.Success() && baseline.HasSummary(outDir)
	tracker.finish(ok)
	if !ok {
		r.log(jobs.LevelWarn, phaseDiscovery, "Auto-discovery did not find baseline, continuing without")
		return
	}
	r.useBaseline(outDir)
	r.log(jobs.LevelInfo, phaseDiscovery, "Auto-discovery complete, baseline ready")
}

// stepTracker turns "Step k/5" progress lines into pre-step events.
type stepTracker struct {
	r       *run
	current int
}

func (t *stepTracker) line(line worker.Line) {
	if line.Text == "" {
		return
	}
	if line.Stream == worker.Stderr {
		t.r.debugLine(line)
		return
	}
	rec := worker.ParseLine(line.Text)
	f := rec.Fields()
	if _, ok := rec.(*worker.TextRecord); ok {
		t.r.log(jobs.LevelDebug, "", f.Message)
	} else {
		entry := t.r.persist(jobs.LogEntry{Level: f.Level, Phase: f.Phase, Message: f.Message, Metadata: f.Raw})
		t.r.publish(broadcast.EventLog, logPayload(entry))
	}
	if step, label, ok := preprocess.ParseDiscoveryStep(f.Message); ok {
		t.advance(step, label)
	}
}

func (t *stepTracker) advance(step int, label string) {
	for i := max(t.current, 1); i < step && i <= preprocess.DiscoverySteps; i++ {
		t.r.preStep(preprocess.DiscoveryStepID(i), preprocess.DiscoveryLabel(i), broadcast.StepDone)
	}
	t.r.preStep(preprocess.DiscoveryStepID(step), label, broadcast.StepRunning)
	t.current = max(t.current, step)
}

func (t *stepTracker) finish(ok bool) {
	status := broadcast.StepFailed
	if ok {
		status = broadcast.StepDone
	}
	for i := 1; i <= preprocess.DiscoverySteps; i++ {
		t.r.preStep(preprocess.DiscoveryStepID(i), preprocess.DiscoveryLabel(i), status)
	}
}

// toolStep is one best-effort preprocessing invocation of the pipeline CLI.
type toolStep struct {
	id      string
	label   string
	args    []string
	timeout time.Duration
	// produced optionally confirms the step left usable output behind.
	produced func() bool
}

// runTool runs a preprocessing step and reports whether it succeeded.
// Entries a timed-out step left in the input directory are removed.
func (r *run) runTool(step toolStep) (worker.Result, bool, error) {
	r.log(jobs.LevelInfo, phasePre, "Pre-processing: "+step.label+"...")
	r.preStep(step.id, step.label, broadcast.StepRunning)
	snap, snapErr := preprocess.SnapshotDir(r.ws.InputDir())

	res, err := r.runWorker(step.id, worker.Command{
		Binary:  r.settings.Python,
		Args:    append([]string{r.settings.toolCLI()}, step.args...),
		Env:     r.settings.baseEnv(),
		Timeout: step.timeout,
	}, r.debugLine)

	ok := err == nil && res.Success() && (step.produced == nil || step.produced())
	if ok {
		r.preStep(step.id, step.label, broadcast.StepDone)
		return res, true, nil
	}
	r.preStep(step.id, step.label, broadcast.StepFailed)
	if res.TimedOut && snapErr == nil {
		removed, rmErr := snap.RemoveNew()
		if rmErr != nil {
			logging.WarnWithContext(r.logger, "discard partial output failed", "partial_output_cleanup_failed", logging.Error(rmErr))
		}
		if len(removed) > 0 {
			r.log(jobs.LevelWarn, phasePre, fmt.Sprintf("Discarded %d partial file(s) from timed-out step", len(removed)))
		}
	}
	return res, false, err
}

// failureText describes why a tool step failed.
func failureText(what string, res worker.Result, err error, timeout time.Duration) string {
	switch {
	case err != nil:
		return fmt.Sprintf("%s could not start (%v)", what, err)
	case res.TimedOut:
		return fmt.Sprintf("%s timed out after %s", what, timeout)
	default:
		return fmt.Sprintf("%s exited with code %d", what, res.ExitCode)
	}
}

// preprocess runs the input preparation steps whose triggers hold.
func (r *run) preprocess() {
	if r.ctx.Err() != nil {
		return
	}
	sum := r.doc.Summary()
	ran := false

	if len(sum.InputURLs) > 0 {
		ran = true
		r.fetchURLs(sum.InputURLs)
	}
	if r.ctx.Err() != nil {
		return
	}
	if pdfs, err := preprocess.ListPDFs(r.ws.InputDir()); err == nil && len(pdfs) > 0 {
		ran = true
		r.extractPDFs(pdfs)
	}
	if r.ctx.Err() != nil {
		return
	}
	if sum.GithubRepo != "" {
		ran = true
		r.analyzeRepo(sum.GithubRepo, sum.GithubAnalyzeCode)
	}
	if r.ctx.Err() != nil {
		return
	}
	if r.contentDiscover() {
		ran = true
	}
	if ran && r.ctx.Err() == nil {
		r.log(jobs.LevelInfo, phasePre, "Pre-processing complete")
	}
}

func (r *run) fetchURLs(urls []string) {
	step := toolStep{
		id:      preprocess.StepURLs,
		label:   preprocess.URLsLabel(len(urls)),
		args:    []string{"fetch-urls", "--urls", strings.Join(urls, ","), "--output-dir", r.ws.InputDir()},
		timeout: preprocess.URLTimeout,
	}
	res, ok, err := r.runTool(step)
	switch {
	case r.ctx.Err() != nil:
	case ok:
		r.log(jobs.LevelInfo, phasePre, fmt.Sprintf("Fetched %d URLs", len(urls)))
	default:
		r.log(jobs.LevelWarn, phasePre, failureText("URL fetch", res, err, step.timeout)+", continuing...")
	}
}

func (r *run) extractPDFs(pdfs []string) {
	step := toolStep{
		id:      preprocess.StepPDFs,
		label:   preprocess.PDFsLabel(len(pdfs)),
		args:    []string{"extract-pdf", "--input-dir", r.ws.InputDir(), "--output-dir", r.ws.InputDir()},
		timeout: preprocess.PDFTimeout(len(pdfs)),
	}
	res, ok, err := r.runTool(step)
	switch {
	case r.ctx.Err() != nil:
		return
	case !ok:
		r.log(jobs.LevelWarn, phasePre, failureText("PDF extraction", res, err, step.timeout)+", continuing...")
		return
	}
	r.log(jobs.LevelInfo, phasePre, fmt.Sprintf("Extracted %d PDFs", len(pdfs)))

	merged, err := preprocess.MergeChapters(r.ws.InputDir(), pdfs)
	if err != nil {
		r.log(jobs.LevelWarn, phasePre, fmt.Sprintf("Chapter merge failed (%v), continuing with separate files", err))
		return
	}
	if merged > 0 {
		r.log(jobs.LevelInfo, phasePre, fmt.Sprintf("Auto-merged %d chapter PDFs into %s", merged, preprocess.MergedChaptersFile))
	}
}

func (r *run) analyzeRepo(repo string, analyzeCode bool) {
	args := []string{"analyze-repo", "--repo", repo, "--output-dir", r.ws.InputDir()}
	if !analyzeCode {
		args = append(args, "--no-code")
	}
	step := toolStep{
		id:      preprocess.StepGithub,
		label:   preprocess.GithubLabel(),
		args:    args,
		timeout: preprocess.GithubTimeout,
	}
	res, ok, err := r.runTool(step)
	switch {
	case r.ctx.Err() != nil:
	case ok:
		r.log(jobs.LevelInfo, phasePre, "GitHub repo analysis complete")
	default:
		r.log(jobs.LevelWarn, phasePre, failureText("Repo analysis", res, err, step.timeout)+", continuing without code analysis...")
	}
}

// contentDiscover derives a baseline from the input documents when none is
// configured. It reports whether the step ran.
func (r *run) contentDiscover() bool {
	sum := r.doc.Summary()
	if sum.SeekersOutputDir != "" || r.doc.MentionsBaselineSummary() || r.settings.APIKey == "" {
		return false
	}
	docs, err := preprocess.ListMarkdown(r.ws.InputDir())
	if err != nil || len(docs) == 0 {
		return false
	}
	outDir := r.ws.BaselineDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		r.log(jobs.LevelWarn, phasePre, fmt.Sprintf("Content-based discovery could not prepare %s (%v), continuing without", outDir, err))
		return true
	}

	r.log(jobs.LevelInfo, phasePre, fmt.Sprintf("Auto-discovering baseline from %d input files...", len(docs)))
	args := []string{
		"discover-from-content",
		"--input-dir", r.ws.InputDir(),
		"--output-dir", outDir,
		"--api-key", r.settings.APIKey,
	}
	step := toolStep{
		id:       preprocess.StepContentDiscover,
		label:    preprocess.ContentDiscoverLabel(),
		args:     append(args, r.settings.modelArgs()...),
		timeout:  preprocess.ContentDiscoverTimeout,
		produced: func() bool { return baseline.HasSummary(outDir) },
	}
	_, ok, _ := r.runTool(step)
	switch {
	case r.ctx.Err() != nil:
	case ok:
		if len(sum.BaselineSources) == 0 {
			r.doc.SetStrings(jobconfig.KeyBaselineSources, []string{baseline.SummaryPath(outDir)})
			r.saveDocument()
		}
		r.log(jobs.LevelInfo, phasePre, "Content-based baseline discovery complete")
	default:
		r.log(jobs.LevelWarn, phasePre, "Content-based discovery did not produce baseline, continuing without")
	}
	return true
}

// build runs the main pipeline.
func (r *run) build() (worker.Result, error) {
	r.log(jobs.LevelInfo, "", "Starting pipeline")
	return r.runWorker(StagePipeline, worker.Command{
		Binary: r.settings.Python,
		Args: []string{
			r.settings.pipelineCLI(r.o.cfg.Worker.Mock), "build",
			"--config", r.ws.ConfigPath(),
			"--output", r.ws.OutputDir(),
			"--json-logs",
		},
		Env: r.settings.pipelineEnv(),
	}, r.pipelineLine)
}

// resolve applies human conflict resolutions to the existing output.
func (r *run) resolve() (worker.Result, error) {
	r.log(jobs.LevelInfo, "", "Resuming build with conflict resolutions")
	return r.runWorker(StageResolve, worker.Command{
		Binary: r.settings.Python,
		Args: []string{
			r.settings.pipelineCLI(r.o.cfg.Worker.Mock), "resolve",
			"--output", r.ws.OutputDir(),
			"--resolutions", r.req.ResolutionsPath,
			"--json-logs",
		},
		Env: r.settings.pipelineEnv(),
	}, r.pipelineLine)
}
