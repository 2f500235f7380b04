package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-activity/internal/activity"
)

// questionSchema checks the shape of an import record before it reaches the
// catalog. Unknown columns are allowed and ignored.
const questionSchema = `{
  "type": "object",
  "required": ["id", "activity", "level", "question_no"],
  "properties": {
    "id":                 {"type": "string", "minLength": 1},
    "activity":           {"type": "string", "minLength": 1},
    "level":              {"type": "integer", "minimum": 1},
    "question_no":        {"type": "integer", "minimum": 1},
    "version":            {"type": "integer", "minimum": 1},
    "locale":             {"type": "string"},
    "question_items":     {"type": "array", "items": {"type": "string"}},
    "answer":             {"type": "array", "items": {"type": "string"}},
    "analytics_tags":     {"type": "array", "items": {"type": "string"}},
    "time_limit_seconds": {"type": "integer", "minimum": 0},
    "stars_for_perfect":  {"type": "integer", "minimum": 1, "maximum": 3},
    "difficulty":         {"enum": ["easy", "medium", "hard"]},
    "question_text":      {"type": "string"},
    "image_url":          {"type": "string"},
    "presentation": {
      "type": "object",
      "properties": {
        "shuffle":      {"type": "boolean"},
        "display_type": {"enum": ["drag_drop", "tap_sequence", "multiple_choice", "match", "image_text", "text_image"]}
      }
    },
    "match_pairs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["question_value", "answer_value"],
        "properties": {
          "question_value": {"type": "string"},
          "answer_value":   {"type": "string"},
          "question_image": {"type": "string"},
          "answer_image":   {"type": "string"}
        }
      }
    },
    "hints": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "value"],
        "properties": {
          "type":  {"enum": ["text", "reveal", "audio"]},
          "value": {"type": "string"},
          "cost":  {"type": "integer", "minimum": 0}
        }
      }
    },
    "assets": {
      "type": "object",
      "properties": {
        "audio_prompt":     {"type": "string"},
        "image_background": {"type": "string"}
      }
    }
  }
}`

// QuestionUpserter is the catalog write the importer needs.
type QuestionUpserter interface {
	UpsertQuestion(ctx context.Context, q activity.Question) (activity.Question, bool, error)
}

// RecordResult is the outcome of one imported record.
type RecordResult struct {
	Index   int    `json:"index"`
	ID      string `json:"id,omitempty"`
	OK      bool   `json:"ok"`
	Created bool   `json:"created,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report summarises an import. Errors mirrors the failed records' messages.
type Report struct {
	Success int            `json:"success"`
	Failed  int            `json:"failed"`
	Errors  []string       `json:"errors"`
	Records []RecordResult `json:"records"`
}

func (r *Report) add(res RecordResult) {
	r.Records = append(r.Records, res)
	if res.OK {
		r.Success++
		return
	}
	r.Failed++
	id := res.ID
	if id == "" {
		id = "unknown"
	}
	r.Errors = append(r.Errors, fmt.Sprintf("record %d (id %s): %s", res.Index, id, res.Error))
}

func (r *Report) merge(other Report) {
	offset := len(r.Records)
	for _, res := range other.Records {
		res.Index += offset
		r.add(res)
	}
}

// Importer validates records and upserts them into the catalog.
type Importer struct {
	target QuestionUpserter
	schema *gojsonschema.Schema
}

// NewImporter creates an importer writing to target.
func NewImporter(target QuestionUpserter) (*Importer, error) {
	if target == nil {
		return nil, fmt.Errorf("import target is nil")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(questionSchema))
	if err != nil {
		return nil, fmt.Errorf("compile question schema: %w", err)
	}
	return &Importer{target: target, schema: schema}, nil
}

// Import parses data and upserts every record by id. A file that cannot be
// parsed, or holds no records, fails as a whole; bad records fail one by
// one and are listed in the report.
func (im *Importer) Import(ctx context.Context, format Format, data []byte) (Report, error) {
	records, err := ParseRecords(format, data)
	if err != nil {
		return Report{}, err
	}
	if len(records) == 0 {
		return Report{}, invalidFile("no questions found in file")
	}

	report := Report{Errors: []string{}, Records: make([]RecordResult, 0, len(records))}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(im.importRecord(ctx, i, rec))
	}

	slog.Info("questions imported",
		"format", format,
		"success", report.Success,
		"failed", report.Failed,
	)
	return report, nil
}

func (im *Importer) importRecord(ctx context.Context, index int, rec map[string]any) RecordResult {
	res := RecordResult{Index: index}
	if id, ok := rec["id"].(string); ok {
		res.ID = id
	}

	if err := im.Validate(rec); err != nil {
		res.Error = err.Error()
		return res
	}
	q, err := DecodeQuestion(rec)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	_, created, err := im.target.UpsertQuestion(ctx, q)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	res.Created = created
	return res
}

// Validate checks rec against the question record schema.
func (im *Importer) Validate(rec map[string]any) error {
	result, err := im.schema.Validate(gojsonschema.NewGoLoader(rec))
	if err != nil {
		return invalidFile("validate record: %v", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return invalidFile("%s", strings.Join(msgs, "; "))
}
