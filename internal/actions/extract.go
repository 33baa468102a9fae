package actions

import (
	"context"

	"github.com/rloza/tramite/internal/capability"
	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/pkg/schema"
)

// AIParseExecutor implements the AI_PARSE action: extract structured fields
// from a document via the external parsing capability.
//
// The file reference resolves in priority order:
//  1. fileSourceStepId == "TRIGGER_EVENT": fileId/fileUrl from the run's
//     trigger context (a file-event trigger carries them).
//  2. fileSourceStepId naming a prior step: fileId/fileUrl from that step's
//     log output.
//  3. Literal fileId/fileUrl in the config.
type AIParseExecutor struct {
	parser   capability.DocumentParser
	selector *expressions.GoJQEngine
}

// NewAIParseExecutor creates the AI_PARSE executor. selector may be nil when
// jq post-selection is not wanted.
func NewAIParseExecutor(parser capability.DocumentParser, selector *expressions.GoJQEngine) *AIParseExecutor {
	return &AIParseExecutor{parser: parser, selector: selector}
}

func (e *AIParseExecutor) Name() schema.ActionType { return schema.ActionAIParse }

func (e *AIParseExecutor) Validate(config map[string]any) error {
	if stringParam(config, "fileSourceStepId", "") == "" &&
		stringParam(config, "fileId", "") == "" &&
		stringParam(config, "fileUrl", "") == "" {
		return schema.NewError(schema.ErrCodeValidation,
			"AI_PARSE: one of fileSourceStepId, fileId or fileUrl is required")
	}
	return nil
}

func (e *AIParseExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	ref, errMsg := e.resolveFileRef(input)
	if errMsg != "" {
		return failure("%s", errMsg), nil
	}

	fields := stringSliceParam(input.Config, "fields")
	parsed, err := e.parser.Parse(ctx, ref, fields)
	if err != nil {
		return failure("AI_PARSE: document parsing failed: %s", err.Error()), nil
	}

	if sel := stringParam(input.Config, "selector", ""); sel != "" && e.selector != nil {
		out, err := e.selector.Evaluate(ctx, sel, parsed)
		if err != nil {
			return failure("AI_PARSE: selector failed: %s", err.Error()), nil
		}
		if m, ok := out.(map[string]any); ok {
			parsed = m
		} else {
			parsed = map[string]any{"value": out}
		}
	}

	return success(parsed), nil
}

// resolveFileRef locates the document to parse. Returns a descriptive error
// message when no file identifier or URL can be found.
func (e *AIParseExecutor) resolveFileRef(input Input) (capability.FileRef, string) {
	source := stringParam(input.Config, "fileSourceStepId", "")

	switch {
	case source == schema.TriggerEventSource:
		tc := input.Run.TriggerContext
		ref := capability.FileRef{
			FileID:  stringParam(tc, "fileId", ""),
			FileURL: stringParam(tc, "fileUrl", ""),
		}
		if ref.FileID == "" && ref.FileURL == "" {
			return ref, "AI_PARSE: File ID or URL not found in trigger context"
		}
		return ref, ""

	case source != "":
		idx := input.Run.LogIndexForStep(source)
		if idx == -1 {
			return capability.FileRef{}, "AI_PARSE: File ID or URL not found: source step " + source + " has no output"
		}
		out := input.Run.Logs[idx].Output
		ref := capability.FileRef{
			FileID:  stringParam(out, "fileId", ""),
			FileURL: stringParam(out, "fileUrl", ""),
		}
		if ref.FileID == "" && ref.FileURL == "" {
			return ref, "AI_PARSE: File ID or URL not found in output of step " + source
		}
		return ref, ""

	default:
		ref := capability.FileRef{
			FileID:  stringParam(input.Config, "fileId", ""),
			FileURL: stringParam(input.Config, "fileUrl", ""),
		}
		if ref.FileID == "" && ref.FileURL == "" {
			return ref, "AI_PARSE: File ID or URL not found in step config"
		}
		return ref, ""
	}
}

var _ Executor = (*AIParseExecutor)(nil)
