package actions

import (
	"context"

	"github.com/rloza/tramite/internal/capability"
	"github.com/rloza/tramite/pkg/schema"
)

// GenerateDocExecutor implements the GENERATE_DOC action: render either a
// template plus field mapping or an inline content string into a document via
// the external generation capability.
type GenerateDocExecutor struct {
	generator capability.DocumentGenerator
}

// NewGenerateDocExecutor creates the GENERATE_DOC executor.
func NewGenerateDocExecutor(generator capability.DocumentGenerator) *GenerateDocExecutor {
	return &GenerateDocExecutor{generator: generator}
}

func (e *GenerateDocExecutor) Name() schema.ActionType { return schema.ActionGenerateDoc }

func (e *GenerateDocExecutor) Validate(config map[string]any) error {
	if stringParam(config, "templateId", "") == "" && stringParam(config, "content", "") == "" {
		return schema.NewError(schema.ErrCodeValidation,
			"GENERATE_DOC: either templateId or content is required")
	}
	return nil
}

func (e *GenerateDocExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	templateID := stringParam(input.Config, "templateId", "")
	content := stringParam(input.Config, "content", "")
	mapping := mapParam(input.Config, "mapping")

	if templateID == "" && content == "" {
		return failure("GENERATE_DOC: either templateId or content is required"), nil
	}
	if res := guardResolved(schema.ActionGenerateDoc, input.Config); res != nil {
		return res, nil
	}

	file, err := e.generator.Generate(ctx, templateID, mapping, content)
	if err != nil {
		return failure("GENERATE_DOC: generation failed: %s", err.Error()), nil
	}

	return success(map[string]any{
		"fileUrl":  file.FileURL,
		"fileName": file.FileName,
	}), nil
}

var _ Executor = (*GenerateDocExecutor)(nil)
