package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/internal/validate"
	"github.com/sells-group/contact-enrichment/pkg/hubspot"
	"github.com/sells-group/contact-enrichment/pkg/sheets"
	"github.com/sells-group/contact-enrichment/pkg/zoominfo"
)

// RecordProcessor classifies and enriches a single contact.
type RecordProcessor interface {
	Process(ctx context.Context, contact hubspot.Contact) model.RecordOutcome
}

// Processor runs the per-contact state machine. Classification rules
// are evaluated in fixed order; the first match wins. Any unexpected
// failure is converted to an error outcome so one contact can never
// abort the batch, except the provider's limit-exceeded signal which
// the orchestrator treats as a batch halt.
type Processor struct {
	crm       hubspot.Client
	provider  zoominfo.Client
	validator validate.Validator
	audit     sheets.Client
}

func NewProcessor(crm hubspot.Client, provider zoominfo.Client, validator validate.Validator, audit sheets.Client) *Processor {
	return &Processor{crm: crm, provider: provider, validator: validator, audit: audit}
}

func (p *Processor) Process(ctx context.Context, contact hubspot.Contact) model.RecordOutcome {
	outcome := model.RecordOutcome{
		ContactID: contact.ID,
		Email:     contact.Property("email"),
		Timestamp: time.Now().UTC(),
	}
	log := zap.L().With(zap.String("contact_id", contact.ID), zap.String("email", outcome.Email))

	if contact.Enriched() {
		log.Debug("processor: already enriched")
		return skip(outcome, model.ReasonAlreadyEnriched)
	}
	if outcome.Email == "" {
		log.Debug("processor: no matching key")
		return skip(outcome, model.ReasonNoEmail)
	}

	candidates, err := p.provider.SearchContact(ctx, outcome.Email)
	if err != nil {
		return fail(outcome, err)
	}
	if len(candidates) == 0 {
		log.Info("processor: no provider match, marking attempted")
		if err := p.markAttempted(ctx, contact.ID); err != nil {
			return fail(outcome, err)
		}
		return skip(outcome, model.ReasonNoMatch)
	}

	best := candidates[0]
	if best.CompanyID == "" {
		log.Info("processor: match has no employer, marking attempted")
		if err := p.markAttempted(ctx, contact.ID); err != nil {
			return fail(outcome, err)
		}
		return skip(outcome, model.ReasonNoCompanyID)
	}

	result, err := p.provider.EnrichContact(ctx, zoominfo.EnrichRequest{
		PersonID:     best.PersonID,
		EmailAddress: outcome.Email,
		FirstName:    contact.Property("firstname"),
		LastName:     contact.Property("lastname"),
		CompanyName:  contact.Property("company"),
	})
	if err != nil {
		return fail(outcome, err)
	}
	if result.LimitExceeded {
		log.Warn("processor: provider credit limit exceeded")
		outcome.Status = model.OutcomeError
		outcome.Reason = model.ReasonLimitExceeded
		outcome.ErrorMessage = "enrichment credit limit exceeded"
		return outcome
	}

	var person zoominfo.Person
	if result.Person != nil {
		person = *result.Person
	}

	validation := p.validator.Validate(ctx, validate.Profile{
		LinkedInURL: person.LinkedIn(),
		FirstName:   coalesce(person.FirstName, contact.Property("firstname")),
		LastName:    coalesce(person.LastName, contact.Property("lastname")),
		CompanyName: coalesce(person.CompanyName, contact.Property("company")),
		JobTitle:    coalesce(person.JobTitle, contact.Property("jobtitle")),
	})

	updates, fieldNames := fieldDiff(contact, person)
	// The marker is written even when the diff is empty, so the contact
	// is never scanned again.
	updates[hubspot.EnrichedProperty] = "true"

	if err := p.crm.UpdateContact(ctx, contact.ID, updates); err != nil {
		return fail(outcome, err)
	}
	log.Info("processor: contact enriched", zap.Strings("fields", fieldNames))

	p.appendAudit(ctx, contact.ID, updates, fieldNames, validation)

	outcome.Status = model.OutcomeEnriched
	outcome.FieldsUpdated = append(fieldNames, hubspot.EnrichedProperty)
	outcome.Validation = &validation
	return outcome
}

// markAttempted sets the enriched marker without field updates, so
// unmatched contacts fall out of future scans.
func (p *Processor) markAttempted(ctx context.Context, contactID string) error {
	err := p.crm.UpdateContact(ctx, contactID, map[string]string{hubspot.EnrichedProperty: "true"})
	return eris.Wrap(err, "processor: mark attempted")
}

// appendAudit logs the enrichment to the audit sheet. Best-effort: a
// failed append never affects the outcome.
func (p *Processor) appendAudit(ctx context.Context, contactID string, updates map[string]string, fieldNames []string, validation model.Validation) {
	if len(fieldNames) == 0 && validation.Status == model.ValidationSkipped {
		return
	}
	err := p.audit.AppendRow(ctx, sheets.Row{
		FirstName:        updates["firstname"],
		LastName:         updates["lastname"],
		Phone:            updates["phone"],
		JobTitle:         updates["jobtitle"],
		Company:          updates["company"],
		City:             updates["city"],
		State:            updates["state"],
		Zip:              updates["zip"],
		ContactID:        contactID,
		ValidationStatus: string(validation.Status),
		ValidationNotes:  validation.Notes,
	})
	if err != nil {
		zap.L().Warn("processor: audit append failed", zap.String("contact_id", contactID), zap.Error(err))
	}
}

func skip(outcome model.RecordOutcome, reason string) model.RecordOutcome {
	outcome.Status = model.OutcomeSkipped
	outcome.Reason = reason
	return outcome
}

func fail(outcome model.RecordOutcome, err error) model.RecordOutcome {
	zap.L().Error("processor: record failed", zap.String("contact_id", outcome.ContactID), zap.Error(err))
	outcome.Status = model.OutcomeError
	outcome.ErrorMessage = err.Error()
	return outcome
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
