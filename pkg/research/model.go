// Package research implements the orchestration core: complexity
// assessment, PlanningStage, ResearchStage, SynthesisStage, and the
// Pipeline supervisor that sequences them (spec §4.7-§4.11).
package research

import (
	"encoding/base64"

	"github.com/corvid-labs/orchestrator/pkg/events"
	"github.com/corvid-labs/orchestrator/pkg/router"
)

// AudienceLevel steers synthesis voice, not its invariants (spec §4.10).
type AudienceLevel string

const (
	AudienceGeneral AudienceLevel = "general"
	AudienceExpert  AudienceLevel = "expert"
)

// OutputFormat is the requested shape of the final report.
type OutputFormat string

const (
	FormatReport   OutputFormat = "report"
	FormatBriefing OutputFormat = "briefing"
	FormatBullets  OutputFormat = "bullet_points"
)

// Attachment is a user-supplied document or image fed into planning and
// research prompts.
type Attachment struct {
	Name        string
	Text        string // empty for images
	ImageData   []byte // empty for text documents
	ImageMIME   string
	IsStructured bool // true for structured-data attachments (summarized, not snippeted)
}

// AttachmentsToParams serializes attachments into a job-params-friendly
// shape so the async queue path (which stores params as JSON) can carry
// them across the submit/run boundary.
func AttachmentsToParams(attachments []Attachment) []map[string]any {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(attachments))
	for _, a := range attachments {
		m := map[string]any{"name": a.Name, "isStructured": a.IsStructured}
		if len(a.ImageData) > 0 {
			m["imageData"] = base64.StdEncoding.EncodeToString(a.ImageData)
			m["imageMime"] = a.ImageMIME
		} else {
			m["text"] = a.Text
		}
		out = append(out, m)
	}
	return out
}

// AttachmentsFromParams is the inverse of AttachmentsToParams, reading
// back whatever shape the job's params map deserialized to (a
// []map[string]any coming straight from Go, or []any/map[string]any as
// produced by a JSON round-trip through the store).
func AttachmentsFromParams(raw any) []Attachment {
	items, ok := raw.([]any)
	if !ok {
		if typed, ok := raw.([]map[string]any); ok {
			var out []Attachment
			for _, m := range typed {
				out = append(out, attachmentFromParam(m))
			}
			return out
		}
		return nil
	}
	var out []Attachment
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, attachmentFromParam(m))
		}
	}
	return out
}

func attachmentFromParam(m map[string]any) Attachment {
	a := Attachment{}
	if v, ok := m["name"].(string); ok {
		a.Name = v
	}
	if v, ok := m["isStructured"].(bool); ok {
		a.IsStructured = v
	}
	if v, ok := m["imageData"].(string); ok && v != "" {
		if data, err := base64.StdEncoding.DecodeString(v); err == nil {
			a.ImageData = data
		}
		if mime, ok := m["imageMime"].(string); ok {
			a.ImageMIME = mime
		}
		return a
	}
	if v, ok := m["text"].(string); ok {
		a.Text = v
	}
	return a
}

// Options configures one research request end to end.
type Options struct {
	Query          string
	CostPreference router.CostPreference
	AudienceLevel  AudienceLevel
	OutputFormat   OutputFormat
	IncludeSources bool
	MaxLength      *int
	Attachments    []Attachment
}

// SubQuery is one planner-emitted unit of research work.
type SubQuery struct {
	ID        int
	Query     string
	Domain    string
	Rationale string
}

// PlanArtifact is PlanningStage's output: either a non-empty list of
// sub-queries or the plan_complete signal (SubQueries == nil).
type PlanArtifact struct {
	SubQueries   []SubQuery
	PlanComplete bool
}

// SubQueryResult is one ensemble member's answer to a SubQuery.
type SubQueryResult struct {
	AgentID      int
	SubQueryID   int
	Model        string
	Query        string
	Text         string
	PromptTokens int
	OutputTokens int
	Error        bool
	ErrorMessage string
	Truncated    bool
}

// EventFunc is the onEvent callback threaded through every stage.
type EventFunc = events.Emitter
