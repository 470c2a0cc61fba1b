package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonesrussell/coursecheck/internal/domain"
)

// responseFormat instructs every backend to answer with one JSON object.
const responseFormat = `Respond with a single JSON object and nothing else:
{"score": <integer 1-10>, "comment": "<one-paragraph summary>", "examples": ["<verbatim excerpt>", ...], "detailed_analysis": "<optional longer analysis>"}`

// standardPrompts are the built-in scoring instructions for the fixed
// metric set.
var standardPrompts = map[string]string{
	domain.MetricClarity: "You are reviewing a lesson for clarity. Judge how easy the text is to follow: " +
		"sentence construction, jargon management, and whether ideas are introduced before they are used.",
	domain.MetricAccuracy: "You are reviewing a lesson for factual accuracy. Identify claims that are wrong, " +
		"outdated, or stated with unwarranted certainty.",
	domain.MetricEngagement: "You are reviewing a lesson for learner engagement. Judge whether the material " +
		"motivates the topic, varies its presentation, and gives the learner something to do.",
	domain.MetricStructure: "You are reviewing a lesson for structure. Judge the ordering of sections, use of " +
		"headings, and whether the lesson builds toward its stated goal.",
	domain.MetricCompleteness: "You are reviewing a lesson for completeness. Judge whether the lesson covers " +
		"what its title promises and whether prerequisites and follow-ups are acknowledged.",
}

// PromptForMetric returns the scoring instruction for a metric: the
// built-in prompt for standard names, the metric's own prompt text
// otherwise.
func PromptForMetric(metric domain.Metric) string {
	if prompt, ok := standardPrompts[metric.Name]; ok {
		return prompt + "\n\n" + responseFormat
	}
	if strings.TrimSpace(metric.PromptText) != "" {
		return metric.PromptText + "\n\n" + responseFormat
	}
	return fmt.Sprintf(
		"You are reviewing a lesson on the %q dimension. Score how well the text performs on it.\n\n%s",
		metric.Name, responseFormat,
	)
}

// TitlePrompt asks for a short descriptive label for the analyzed content.
const TitlePrompt = `Produce a short descriptive title (at most 8 words) for the following lesson content. Respond with the title only, no quotes.`

// parsedResult is the JSON shape models are asked to produce.
type parsedResult struct {
	Score            int      `json:"score"`
	Comment          string   `json:"comment"`
	Examples         []string `json:"examples"`
	DetailedAnalysis string   `json:"detailed_analysis"`
}

// ParseResult extracts the scored result from a model's raw text reply.
// Replies wrapped in markdown code fences are unwrapped first. A reply
// that cannot be parsed is a BAD_OUTPUT error.
func ParseResult(provider, raw string) (*Result, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))

	// Tolerate prose around the JSON object.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, &Error{
			Code:     ErrBadOutput,
			Provider: provider,
			Message:  "no JSON object in model response",
		}
	}

	var parsed parsedResult
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &parsed); err != nil {
		return nil, &Error{
			Code:     ErrBadOutput,
			Provider: provider,
			Message:  fmt.Sprintf("malformed JSON in model response: %v", err),
			Err:      err,
		}
	}

	if parsed.Score < 1 || parsed.Score > 10 {
		return nil, &Error{
			Code:     ErrBadOutput,
			Provider: provider,
			Message:  fmt.Sprintf("score %d outside 1-10", parsed.Score),
		}
	}

	return &Result{
		Score:            parsed.Score,
		Comment:          parsed.Comment,
		Examples:         parsed.Examples,
		DetailedAnalysis: parsed.DetailedAnalysis,
	}, nil
}

// stripCodeFence removes a wrapping markdown code fence if present.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
