package enrich

import (
	"github.com/sells-group/contact-enrichment/pkg/hubspot"
	"github.com/sells-group/contact-enrichment/pkg/zoominfo"
)

// fieldMapping pairs a CRM property with the provider value that can
// fill it.
type fieldMapping struct {
	property string
	value    func(p zoominfo.Person) string
}

// fieldMappings is the fixed, ordered set of fill-in targets.
var fieldMappings = []fieldMapping{
	{"firstname", func(p zoominfo.Person) string { return p.FirstName }},
	{"lastname", func(p zoominfo.Person) string { return p.LastName }},
	{"phone", func(p zoominfo.Person) string {
		if p.Phone != "" {
			return p.Phone
		}
		return p.DirectPhone
	}},
	{"mobilephone", func(p zoominfo.Person) string { return p.MobilePhone }},
	{"jobtitle", func(p zoominfo.Person) string { return p.JobTitle }},
	{"company", func(p zoominfo.Person) string { return p.CompanyName }},
	{"city", func(p zoominfo.Person) string { return p.City }},
	{"state", func(p zoominfo.Person) string { return p.State }},
	{"zip", func(p zoominfo.Person) string { return p.ZipCode }},
	{"country", func(p zoominfo.Person) string { return p.Country }},
}

// fieldDiff computes the minimal CRM update: a property is filled only
// when it is currently empty and the provider has a non-empty value.
// Populated CRM fields are never overwritten. The returned names list
// preserves mapping order.
func fieldDiff(contact hubspot.Contact, person zoominfo.Person) (map[string]string, []string) {
	updates := make(map[string]string)
	var names []string
	for _, m := range fieldMappings {
		if contact.Property(m.property) != "" {
			continue
		}
		if v := m.value(person); v != "" {
			updates[m.property] = v
			names = append(names, m.property)
		}
	}
	return updates, names
}
