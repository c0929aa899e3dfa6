// Package validate checks enriched LinkedIn profiles against the
// provider's field data using a language model.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/anthropic"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-haiku-4-5-20251001"

// Profile is the enriched identity to verify against LinkedIn.
type Profile struct {
	LinkedInURL string
	FirstName   string
	LastName    string
	CompanyName string
	JobTitle    string
}

// Validator renders a MATCH/MISMATCH verdict for a profile. Validation
// is advisory: it never fails the enrichment that requested it.
type Validator interface {
	Enabled() bool
	Validate(ctx context.Context, p Profile) model.Validation
}

type lmValidator struct {
	client    anthropic.Client
	modelName string
}

// New creates a Validator backed by the given Anthropic client. A nil
// client yields a disabled validator whose verdicts are always SKIPPED.
func New(client anthropic.Client, modelName string) Validator {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &lmValidator{client: client, modelName: modelName}
}

func (v *lmValidator) Enabled() bool {
	return v.client != nil
}

var (
	statusRe = regexp.MustCompile(`(?i)STATUS:\s*(MATCH|MISMATCH)`)
	notesRe  = regexp.MustCompile(`(?i)NOTES:\s*(.+)`)
)

func (v *lmValidator) Validate(ctx context.Context, p Profile) model.Validation {
	if !v.Enabled() {
		return model.Validation{Status: model.ValidationSkipped, Notes: "validator not configured"}
	}
	if p.LinkedInURL == "" {
		return model.Validation{Status: model.ValidationSkipped, Notes: "no LinkedIn URL"}
	}

	prompt := fmt.Sprintf(`Check this LinkedIn profile: %s

Verify if %s %s currently works at %s as %s.

Respond in this exact format only:
STATUS: MATCH or MISMATCH
NOTES: [If match, say 'Confirmed'. If mismatch, state the current company and/or title shown on LinkedIn]`,
		p.LinkedInURL, p.FirstName, p.LastName, p.CompanyName, p.JobTitle)

	temp := 0.1
	resp, err := v.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       v.modelName,
		MaxTokens:   150,
		System:      "You are a data validation assistant. Check LinkedIn profiles to verify employment information.",
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		// Advisory step, so a provider failure downgrades to SKIPPED.
		zap.L().Warn("validate: LM call failed", zap.Error(err))
		return model.Validation{
			Status: model.ValidationSkipped,
			Notes:  "validation error: " + err.Error(),
		}
	}
	resp.Usage.LogCost(v.modelName, "linkedin-validation")

	return parseVerdict(resp.Text)
}

func parseVerdict(text string) model.Validation {
	status := model.ValidationUnknown
	if m := statusRe.FindStringSubmatch(text); m != nil {
		status = model.ValidationStatus(strings.ToUpper(m[1]))
	}

	notes := text
	if m := notesRe.FindStringSubmatch(text); m != nil {
		notes = strings.TrimSpace(m[1])
	}
	if len(notes) > 200 {
		notes = notes[:200]
	}
	return model.Validation{Status: status, Notes: notes}
}
