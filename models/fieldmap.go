package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldMapping binds one RETS source field to a named target attribute.
// Targets are resolved against a per-kind setter registry, so mapping tables
// (including yaml overrides) can be validated at startup. Incoming fields
// with no mapping are ignored; mapped fields absent from a record leave the
// attribute at its prior value.
type FieldMapping struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// RETS timestamps come back as '%FT%T'; some servers use a space separator.
var timeLayouts = []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func parseTimePtr(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

func parseIntPtr(v string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return &n
}

func parseFloatPtr(v string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil
	}
	return &f
}

type propertySetter func(*Property, string)

var propertyTargets = map[string]propertySetter{
	"mls_acct":            func(p *Property, v string) { p.MLSAcct = v },
	"street_num":          func(p *Property, v string) { p.StreetNum = v },
	"street_name":         func(p *Property, v string) { p.StreetName = v },
	"city":                func(p *Property, v string) { p.City = v },
	"state":               func(p *Property, v string) { p.State = v },
	"zip":                 func(p *Property, v string) { p.Zip = v },
	"status":              func(p *Property, v string) { p.Status = v },
	"price":               func(p *Property, v string) { p.Price = parseFloatPtr(v) },
	"beds":                func(p *Property, v string) { p.Beds = parseIntPtr(v) },
	"baths":               func(p *Property, v string) { p.Baths = parseIntPtr(v) },
	"sqft":                func(p *Property, v string) { p.SqFt = parseIntPtr(v) },
	"description":         func(p *Property, v string) { p.Description = v },
	"la_code":             func(p *Property, v string) { p.LaCode = v },
	"lo_code":             func(p *Property, v string) { p.LoCode = v },
	"date_created":        func(p *Property, v string) { p.DateCreated = parseTimePtr(v) },
	"date_modified":       func(p *Property, v string) { p.DateModified = parseTimePtr(v) },
	"photo_date_modified": func(p *Property, v string) { p.PhotoDateModified = parseTimePtr(v) },
	"latitude":            func(p *Property, v string) { p.Latitude = parseFloatPtr(v) },
	"longitude":           func(p *Property, v string) { p.Longitude = parseFloatPtr(v) },
}

// PropertyFieldMap is the default source-to-attribute table for the Property
// resource. RETS field names match the feed's uppercase column convention.
var PropertyFieldMap = []FieldMapping{
	{Source: "MLS_ACCT", Target: "mls_acct"},
	{Source: "STREET_NUM", Target: "street_num"},
	{Source: "STREET_NAME", Target: "street_name"},
	{Source: "CITY", Target: "city"},
	{Source: "STATE", Target: "state"},
	{Source: "ZIP", Target: "zip"},
	{Source: "STATUS", Target: "status"},
	{Source: "LIST_PRICE", Target: "price"},
	{Source: "BEDS", Target: "beds"},
	{Source: "BATHS", Target: "baths"},
	{Source: "SQFT", Target: "sqft"},
	{Source: "REMARKS", Target: "description"},
	{Source: "LA_CODE", Target: "la_code"},
	{Source: "LO_CODE", Target: "lo_code"},
	{Source: "DATE_CREATED", Target: "date_created"},
	{Source: "DATE_MODIFIED", Target: "date_modified"},
	{Source: "PHOTO_DATE_MODIFIED", Target: "photo_date_modified"},
	{Source: "LATITUDE", Target: "latitude"},
	{Source: "LONGITUDE", Target: "longitude"},
}

// Apply copies recognized fields onto the property. Extra mappings (yaml
// overrides) are applied after the defaults.
func (p *Property) Apply(fields map[string]string, extra []FieldMapping) {
	applyProperty(p, PropertyFieldMap, fields)
	applyProperty(p, extra, fields)
}

func applyProperty(p *Property, mappings []FieldMapping, fields map[string]string) {
	for _, m := range mappings {
		v, ok := fields[m.Source]
		if !ok {
			continue
		}
		if set, ok := propertyTargets[m.Target]; ok {
			set(p, v)
		}
	}
}

type agentSetter func(*Agent, string)

var agentTargets = map[string]agentSetter{
	"la_code":             func(a *Agent, v string) { a.LaCode = v },
	"first_name":          func(a *Agent, v string) { a.FirstName = v },
	"last_name":           func(a *Agent, v string) { a.LastName = v },
	"member_email":        func(a *Agent, v string) { a.MemberEmail = v },
	"office_phone":        func(a *Agent, v string) { a.OfficePhone = v },
	"home_phone":          func(a *Agent, v string) { a.HomePhone = v },
	"cell_phone":          func(a *Agent, v string) { a.CellPhone = v },
	"fax_phone":           func(a *Agent, v string) { a.FaxPhone = v },
	"mail_addr1":          func(a *Agent, v string) { a.MailAddr1 = v },
	"mail_addr2":          func(a *Agent, v string) { a.MailAddr2 = v },
	"mail_city":           func(a *Agent, v string) { a.MailCity = v },
	"mail_state":          func(a *Agent, v string) { a.MailState = v },
	"mail_zip":            func(a *Agent, v string) { a.MailZip = v },
	"lo_code":             func(a *Agent, v string) { a.LoCode = v },
	"member_status":       func(a *Agent, v string) { a.MemberStatus = v },
	"nrds_id":             func(a *Agent, v string) { a.NrdsID = v },
	"date_created":        func(a *Agent, v string) { a.DateCreated = parseTimePtr(v) },
	"date_modified":       func(a *Agent, v string) { a.DateModified = parseTimePtr(v) },
	"photo_count":         func(a *Agent, v string) { a.PhotoCount = parseIntPtr(v) },
	"photo_date_modified": func(a *Agent, v string) { a.PhotoDateModified = parseTimePtr(v) },
}

// AgentFieldMap is the default table for the Agent resource (LA_* feed names).
var AgentFieldMap = []FieldMapping{
	{Source: "LA_LA_CODE", Target: "la_code"},
	{Source: "LA_FIRST_NAME", Target: "first_name"},
	{Source: "LA_LAST_NAME", Target: "last_name"},
	{Source: "LA_MEMBER_EMAIL", Target: "member_email"},
	{Source: "LA_OFFICE_PHONE", Target: "office_phone"},
	{Source: "LA_HOME_PHONE", Target: "home_phone"},
	{Source: "LA_CAR_PHONE", Target: "cell_phone"},
	{Source: "LA_FAX_PHONE", Target: "fax_phone"},
	{Source: "LA_MAIL_ADDR1", Target: "mail_addr1"},
	{Source: "LA_MAIL_ADDR2", Target: "mail_addr2"},
	{Source: "LA_MAIL_CITY", Target: "mail_city"},
	{Source: "LA_MAIL_STATE", Target: "mail_state"},
	{Source: "LA_MAIL_ZIP", Target: "mail_zip"},
	{Source: "LA_LO_CODE", Target: "lo_code"},
	{Source: "LA_MEMBER_STATUS", Target: "member_status"},
	{Source: "LA_NRDS_ID", Target: "nrds_id"},
	{Source: "LA_DATE_CREATED", Target: "date_created"},
	{Source: "LA_DATE_MODIFIED", Target: "date_modified"},
	{Source: "PHOTO_COUNT", Target: "photo_count"},
	{Source: "PHOTO_DATE_MODIFIED", Target: "photo_date_modified"},
}

// Apply copies recognized fields onto the agent and re-normalizes the name.
func (a *Agent) Apply(fields map[string]string, extra []FieldMapping) {
	applyAgent(a, AgentFieldMap, fields)
	applyAgent(a, extra, fields)
	a.NormalizeName()
}

func applyAgent(a *Agent, mappings []FieldMapping, fields map[string]string) {
	for _, m := range mappings {
		v, ok := fields[m.Source]
		if !ok {
			continue
		}
		if set, ok := agentTargets[m.Target]; ok {
			set(a, v)
		}
	}
}

// ValidateMappings checks a mapping table against the named kind's setter
// registry. Called at startup for yaml overrides so a typoed target fails
// fast instead of silently dropping fields.
func ValidateMappings(kind string, mappings []FieldMapping) error {
	for _, m := range mappings {
		if m.Source == "" {
			return fmt.Errorf("%s mapping for target %q has empty source", kind, m.Target)
		}
		var ok bool
		switch kind {
		case "property":
			_, ok = propertyTargets[m.Target]
		case "agent":
			_, ok = agentTargets[m.Target]
		default:
			return fmt.Errorf("unknown mapping kind %q", kind)
		}
		if !ok {
			return fmt.Errorf("%s mapping %s: unknown target %q", kind, m.Source, m.Target)
		}
	}
	return nil
}
