// Package enrich implements the batch enrichment workflow: scanning a
// CRM list for eligible contacts, processing each one against the
// enrichment provider, and orchestrating runs end to end.
package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/pkg/hubspot"
)

const (
	// scanPageSize is the list-membership page size (the CRM maximum).
	scanPageSize = 100
	// maxPageScans bounds a single batch scan so a fully-processed list
	// terminates instead of paging forever.
	maxPageScans = 50
)

// BatchSource produces batches of eligible contacts.
type BatchSource interface {
	GetBatch(ctx context.Context, listID string, limit int, after string) ([]hubspot.Contact, string, error)
}

// Scanner walks a CRM list page by page, filtering out contacts that
// already carry the enriched marker. Contacts without an email are kept:
// the processor records them as skipped so every scan pass is visible in
// the run log.
type Scanner struct {
	crm hubspot.Client
}

func NewScanner(crm hubspot.Client) *Scanner {
	return &Scanner{crm: crm}
}

// GetBatch returns up to limit unprocessed contacts starting from the
// given membership cursor ("" for the start of the list), plus the
// cursor where the scan stopped. A short or empty result means the list
// has no more unprocessed members within the scan ceiling.
func (s *Scanner) GetBatch(ctx context.Context, listID string, limit int, after string) ([]hubspot.Contact, string, error) {
	var batch []hubspot.Contact
	cursor := after
	scanned := 0

	for pages := 0; len(batch) < limit && pages < maxPageScans; pages++ {
		page, err := s.crm.ListMemberships(ctx, listID, scanPageSize, cursor)
		if err != nil {
			return nil, "", eris.Wrap(err, "scanner: list memberships")
		}
		if len(page.ContactIDs) == 0 {
			cursor = ""
			break
		}
		scanned += len(page.ContactIDs)

		contacts, err := s.crm.BatchGetContacts(ctx, page.ContactIDs)
		if err != nil {
			return nil, "", eris.Wrap(err, "scanner: batch read contacts")
		}
		for _, contact := range contacts {
			if contact.Enriched() {
				continue
			}
			batch = append(batch, contact)
			if len(batch) == limit {
				break
			}
		}

		cursor = page.NextAfter
		if cursor == "" {
			break
		}
	}

	zap.L().Debug("scanner: batch assembled",
		zap.Int("scanned", scanned),
		zap.Int("eligible", len(batch)),
		zap.String("next_cursor", cursor),
	)
	return batch, cursor, nil
}
