package decomposer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/browsecore/browseserver/internal/apperr"
)

// defaultStepTimeout is applied to a StepSpec when the AI collaborator omits
// a timeout override.
const defaultStepTimeout = 30 * time.Second

// urlPattern matches the first http(s) URL-looking token in free text.
var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// domainKeyword maps a lowercase keyword found in an instruction to the
// canonical URL the fallback heuristic should navigate to.
type domainKeyword struct {
	keyword string
	url     string
}

// defaultDomainKeywords covers the handful of sites an unconfigured
// heuristic run is most likely to be asked about.
var defaultDomainKeywords = []domainKeyword{
	{"google", "https://www.google.com"},
	{"linkedin", "https://www.linkedin.com"},
	{"github", "https://www.github.com"},
	{"wikipedia", "https://www.wikipedia.org"},
	{"amazon", "https://www.amazon.com"},
	{"youtube", "https://www.youtube.com"},
}

// Decomposer turns a free-text instruction into an ordered []StepSpec.
type Decomposer struct {
	collaborator   AICollaborator
	defaultURL     string
	domainKeywords []domainKeyword
}

// New constructs a Decomposer. collaborator may be nil, in which case every
// call goes through the keyword/URL fallback heuristic. defaultURL is the
// navigate target used when neither an explicit URL nor a known domain
// keyword appears in the instruction.
func New(collaborator AICollaborator, defaultURL string) *Decomposer {
	return &Decomposer{
		collaborator:   collaborator,
		defaultURL:     defaultURL,
		domainKeywords: defaultDomainKeywords,
	}
}

// Decompose produces an ordered plan of at most maxSteps StepSpecs.
func (d *Decomposer) Decompose(ctx context.Context, instruction string, maxSteps int, toolsPrompt string) ([]StepSpec, error) {
	if maxSteps < 1 {
		maxSteps = 1
	}

	if d.collaborator != nil {
		steps, err := d.decomposeWithAI(ctx, instruction, maxSteps, toolsPrompt)
		if err == nil {
			return steps, nil
		}
		log.Printf("[Decomposer] AI collaborator failed (%v), falling back to heuristic", err)
	}

	steps := d.fallbackHeuristic(instruction, maxSteps)
	if len(steps) == 0 {
		return nil, apperr.New(apperr.DecompositionFailed, "no executable steps could be derived from the instruction")
	}
	return steps, nil
}

// decomposeWithAI asks the AI collaborator for a plan, repairs its JSON if
// necessary, and validates every step before returning it. A step that
// violates a hard constraint (non-http(s) URL, unknown action) is dropped
// rather than passed through un-executable; if nothing survives validation,
// DECOMPOSITION_FAILED is returned so the caller can fall back.
func (d *Decomposer) decomposeWithAI(ctx context.Context, instruction string, maxSteps int, toolsPrompt string) ([]StepSpec, error) {
	raw, err := d.collaborator.Plan(ctx, instruction, maxSteps, toolsPrompt)
	if err != nil {
		return nil, apperr.Wrap(apperr.DecompositionFailed, "AI collaborator call failed", err)
	}

	var rawSteps []rawStep
	if err := json.Unmarshal([]byte(raw), &rawSteps); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, apperr.Wrap(apperr.DecompositionFailed, "collaborator returned unparseable JSON", err)
		}
		if err := json.Unmarshal([]byte(repaired), &rawSteps); err != nil {
			return nil, apperr.Wrap(apperr.DecompositionFailed, "collaborator JSON unparseable even after repair", err)
		}
	}

	valid := make([]StepSpec, 0, len(rawSteps))
	for _, rs := range rawSteps {
		step, ok := rs.toStepSpec()
		if !ok {
			continue
		}
		valid = append(valid, step)
		if len(valid) == maxSteps {
			break
		}
	}
	if len(valid) == 0 {
		return nil, apperr.New(apperr.DecompositionFailed, "AI plan contained no valid steps")
	}
	return valid, nil
}

// rawStep is the wire shape emitted by the AI collaborator.
type rawStep struct {
	Action      string `json:"action"`
	URL         string `json:"url"`
	Selector    string `json:"selector"`
	Text        string `json:"text"`
	InputText   string `json:"input_text"`
	Submit      bool   `json:"submit"`
	Condition   string `json:"condition"`
	TimeoutMS   int    `json:"timeout_ms"`
	Direction   string `json:"direction"`
	Description string `json:"description"`
}

// toStepSpec validates and converts a rawStep. The second return value is
// false when the step violates a hard constraint and must be dropped:
// an unrecognized action, or a NAVIGATE step whose URL is not http(s).
func (rs rawStep) toStepSpec() (StepSpec, bool) {
	timeout := defaultStepTimeout
	if rs.TimeoutMS > 0 {
		timeout = time.Duration(rs.TimeoutMS) * time.Millisecond
	}

	step := StepSpec{
		Action:      Action(strings.ToUpper(rs.Action)),
		URL:         rs.URL,
		Selector:    rs.Selector,
		Text:        rs.Text,
		InputText:   rs.InputText,
		Submit:      rs.Submit,
		Condition:   WaitCondition(strings.ToUpper(rs.Condition)),
		Timeout:     timeout,
		Direction:   ScrollDirection(strings.ToUpper(rs.Direction)),
		Description: rs.Description,
	}

	switch step.Action {
	case ActionNavigate:
		if !isHTTPURL(step.URL) {
			return StepSpec{}, false
		}
	case ActionClick, ActionType, ActionWait, ActionScreenshot, ActionExtractText, ActionScroll:
		// no additional hard constraints
	default:
		return StepSpec{}, false
	}

	if step.Description == "" {
		step.Description = describeStep(step)
	}
	return step, true
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

// fallbackHeuristic is used when no AI collaborator is configured, or as a
// safety net when the collaborator's output could not be turned into any
// valid step. It emits a navigate to the chosen target followed by a
// screenshot; when no http(s) target exists (no URL in the instruction, no
// known keyword, and a defaultURL that is not http(s)) it returns no steps,
// so Decompose reports DECOMPOSITION_FAILED.
func (d *Decomposer) fallbackHeuristic(instruction string, maxSteps int) []StepSpec {
	target := d.defaultURL
	if match := urlPattern.FindString(instruction); match != "" {
		target = match
	} else {
		lower := strings.ToLower(instruction)
		for _, dk := range d.domainKeywords {
			if strings.Contains(lower, dk.keyword) {
				target = dk.url
				break
			}
		}
	}
	if !isHTTPURL(target) {
		return nil
	}

	steps := []StepSpec{
		{Action: ActionNavigate, URL: target, Description: fmt.Sprintf("Navigate to %s", target)},
		{Action: ActionScreenshot, Description: "Capture a screenshot of the loaded page"},
	}
	if len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	return steps
}

func describeStep(s StepSpec) string {
	switch s.Action {
	case ActionNavigate:
		return fmt.Sprintf("Navigate to %s", s.URL)
	case ActionClick:
		if s.Selector != "" {
			return fmt.Sprintf("Click element matching %q", s.Selector)
		}
		return fmt.Sprintf("Click element with text %q", s.Text)
	case ActionType:
		return fmt.Sprintf("Type into %q", s.Selector)
	case ActionWait:
		return fmt.Sprintf("Wait for %s", s.Condition)
	case ActionScreenshot:
		return "Capture a screenshot"
	case ActionExtractText:
		return fmt.Sprintf("Extract text from %q", s.Selector)
	case ActionScroll:
		return fmt.Sprintf("Scroll %s", s.Direction)
	default:
		return string(s.Action)
	}
}
