package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rloza/tramite/internal/capability"
	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/internal/resolver"
	"github.com/rloza/tramite/pkg/schema"
)

// fakeParser records the ref it received and returns canned fields.
type fakeParser struct {
	ref    capability.FileRef
	fields map[string]any
	err    error
}

func (f *fakeParser) Parse(_ context.Context, ref capability.FileRef, _ []string) (map[string]any, error) {
	f.ref = ref
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

func parseInput(config map[string]any, run *schema.Run) Input {
	if run == nil {
		run = &schema.Run{ID: "r1"}
	}
	return Input{
		Step:     &schema.Step{ID: "parse", Action: schema.ActionAIParse},
		Config:   config,
		Run:      run,
		Resolver: resolver.BuildContext(nil, nil, run.TriggerContext, run.InitialInput),
	}
}

func TestAIParseFromTriggerContext(t *testing.T) {
	parser := &fakeParser{fields: map[string]any{"total": 120.0}}
	e := NewAIParseExecutor(parser, nil)

	run := &schema.Run{ID: "r1", TriggerContext: map[string]any{"fileId": "f-9"}}
	res, err := e.Execute(context.Background(), parseInput(map[string]any{
		"fileSourceStepId": schema.TriggerEventSource,
	}, run))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "f-9", parser.ref.FileID)
	assert.Equal(t, 120.0, res.Output["total"])
}

func TestAIParseMissingTriggerFileFails(t *testing.T) {
	e := NewAIParseExecutor(&fakeParser{}, nil)

	run := &schema.Run{ID: "r1", TriggerContext: map[string]any{"other": "x"}}
	res, err := e.Execute(context.Background(), parseInput(map[string]any{
		"fileSourceStepId": schema.TriggerEventSource,
	}, run))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "File ID or URL not found")
}

func TestAIParseFromPriorStepOutput(t *testing.T) {
	parser := &fakeParser{fields: map[string]any{"vendor": "Acme"}}
	e := NewAIParseExecutor(parser, nil)

	run := &schema.Run{ID: "r1", Logs: []schema.StepLog{
		{StepID: "upload", Output: map[string]any{"fileUrl": "https://files/x.pdf"}},
	}}
	res, err := e.Execute(context.Background(), parseInput(map[string]any{
		"fileSourceStepId": "upload",
	}, run))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://files/x.pdf", parser.ref.FileURL)
}

func TestAIParseSourceStepWithoutFileFails(t *testing.T) {
	e := NewAIParseExecutor(&fakeParser{}, nil)

	run := &schema.Run{ID: "r1", Logs: []schema.StepLog{
		{StepID: "upload", Output: map[string]any{"note": "no file here"}},
	}}
	res, err := e.Execute(context.Background(), parseInput(map[string]any{
		"fileSourceStepId": "upload",
	}, run))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "File ID or URL not found")
}

func TestAIParseSourceStepNeverRanFails(t *testing.T) {
	e := NewAIParseExecutor(&fakeParser{}, nil)

	res, err := e.Execute(context.Background(), parseInput(map[string]any{
		"fileSourceStepId": "ghost",
	}, nil))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "File ID or URL not found")
}

func TestAIParseLiteralConfigRef(t *testing.T) {
	parser := &fakeParser{fields: map[string]any{"ok": true}}
	e := NewAIParseExecutor(parser, nil)

	res, err := e.Execute(context.Background(), parseInput(map[string]any{
		"fileId": "f-literal",
	}, nil))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "f-literal", parser.ref.FileID)
}

func TestAIParseSelector(t *testing.T) {
	parser := &fakeParser{fields: map[string]any{
		"invoice": map[string]any{"total": 88.0, "currency": "EUR"},
	}}
	e := NewAIParseExecutor(parser, expressions.NewGoJQEngine())

	res, err := e.Execute(context.Background(), parseInput(map[string]any{
		"fileId":   "f-1",
		"selector": ".invoice",
	}, nil))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 88.0, res.Output["total"])
	assert.Equal(t, "EUR", res.Output["currency"])
}
