package preprocess

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Stable pre-step identifiers reported to live subscribers.
const (
	StepURLs            = "pre_urls"
	StepPDFs            = "pre_pdfs"
	StepGithub          = "pre_github"
	StepContentDiscover = "pre_content_discover"
)

// DiscoverySteps is the number of steps reported by the discovery worker.
const DiscoverySteps = 5

// Time budgets per step.
const (
	URLTimeout             = 60 * time.Second
	GithubTimeout          = 180 * time.Second
	ContentDiscoverTimeout = 180 * time.Second
	pdfMinTimeout          = 300 * time.Second
	pdfPerFileTimeout      = 120 * time.Second
)

var discoveryLabels = [DiscoverySteps + 1]string{
	"",
	"Analyzing domain",
	"Discovering URLs",
	"Evaluating URLs",
	"Crawling references",
	"Building baseline",
}

var discoveryStepPattern = regexp.MustCompile(`^Step (\d)/5:\s*(.+?)\.{0,3}$`)

// PDFTimeout scales the extraction budget with the number of files.
func PDFTimeout(files int) time.Duration {
	if d := time.Duration(files) * pdfPerFileTimeout; d > pdfMinTimeout {
		return d
	}
	return pdfMinTimeout
}

// URLsLabel, PDFsLabel, GithubLabel and ContentDiscoverLabel name the steps
// in pre-step events.
func URLsLabel(n int) string { return fmt.Sprintf("Fetching %d URLs", n) }

func PDFsLabel(n int) string { return fmt.Sprintf("Extracting %d PDFs", n) }

func GithubLabel() string { return "Analyzing GitHub repo" }

func ContentDiscoverLabel() string { return "Analyzing content for baseline" }

// DiscoveryStepID returns the pre-step id for a 1-based discovery step.
func DiscoveryStepID(step int) string {
	return "discovery_" + strconv.Itoa(step)
}

// DiscoveryLabel returns the fixed label for a discovery step.
func DiscoveryLabel(step int) string {
	if step < 1 || step > DiscoverySteps {
		return "Step " + strconv.Itoa(step)
	}
	return discoveryLabels[step]
}

// ParseDiscoveryStep recognises "Step N/5: text" progress lines. The label
// is the fixed label for known steps, otherwise the worker's own text.
func ParseDiscoveryStep(text string) (step int, label string, ok bool) {
	m := discoveryStepPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	step, err := strconv.Atoi(m[1])
	if err != nil || step < 1 {
		return 0, "", false
	}
	if step <= DiscoverySteps {
		return step, discoveryLabels[step], true
	}
	return step, m[2], true
}
