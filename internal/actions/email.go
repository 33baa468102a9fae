package actions

import (
	"context"
	"html"
	"strings"

	"github.com/rloza/tramite/internal/capability"
	"github.com/rloza/tramite/pkg/schema"
)

// SendEmailExecutor implements the SEND_EMAIL action. Recipient and subject
// are mandatory, as is at least one of body (plain text) or html. Plain text
// is converted to minimal HTML when no html field is supplied.
type SendEmailExecutor struct {
	mailer capability.Mailer
}

// NewSendEmailExecutor creates the SEND_EMAIL executor.
func NewSendEmailExecutor(mailer capability.Mailer) *SendEmailExecutor {
	return &SendEmailExecutor{mailer: mailer}
}

func (e *SendEmailExecutor) Name() schema.ActionType { return schema.ActionSendEmail }

func (e *SendEmailExecutor) Validate(config map[string]any) error {
	if stringParam(config, "recipient", "") == "" && stringParam(config, "to", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "SEND_EMAIL: missing required param 'recipient'")
	}
	if stringParam(config, "subject", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "SEND_EMAIL: missing required param 'subject'")
	}
	if stringParam(config, "body", "") == "" && stringParam(config, "html", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "SEND_EMAIL: one of body or html is required")
	}
	return nil
}

func (e *SendEmailExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	recipient := stringParam(input.Config, "recipient", "")
	if recipient == "" {
		recipient = stringParam(input.Config, "to", "")
	}
	subject := stringParam(input.Config, "subject", "")
	body := stringParam(input.Config, "body", "")
	htmlBody := stringParam(input.Config, "html", "")

	switch {
	case recipient == "":
		return failure("SEND_EMAIL: missing required param 'recipient'"), nil
	case subject == "":
		return failure("SEND_EMAIL: missing required param 'subject'"), nil
	case body == "" && htmlBody == "":
		return failure("SEND_EMAIL: one of body or html is required"), nil
	}
	if res := guardResolved(schema.ActionSendEmail, input.Config); res != nil {
		return res, nil
	}

	if htmlBody == "" {
		htmlBody = textToHTML(body)
	}

	if err := e.mailer.Send(ctx, recipient, subject, htmlBody); err != nil {
		return failure("SEND_EMAIL: delivery to %s failed: %s", recipient, err.Error()), nil
	}

	return success(map[string]any{
		"recipient": recipient,
		"subject":   subject,
		"sent":      true,
	}), nil
}

// textToHTML escapes plain text and turns line breaks into <br> tags.
func textToHTML(text string) string {
	escaped := html.EscapeString(text)
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>"
}

var _ Executor = (*SendEmailExecutor)(nil)
