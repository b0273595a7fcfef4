package models

import (
	"strings"
	"time"
	"unicode"
)

// Agent is one member record from the RETS Agent resource.
type Agent struct {
	ID                int64      `json:"id" db:"id"`
	LaCode            string     `json:"la_code" db:"la_code"`
	FirstName         string     `json:"first_name" db:"first_name"`
	LastName          string     `json:"last_name" db:"last_name"`
	MemberEmail       string     `json:"member_email" db:"member_email"`
	OfficePhone       string     `json:"office_phone" db:"office_phone"`
	HomePhone         string     `json:"home_phone" db:"home_phone"`
	CellPhone         string     `json:"cell_phone" db:"cell_phone"`
	FaxPhone          string     `json:"fax_phone" db:"fax_phone"`
	MailAddr1         string     `json:"mail_addr1" db:"mail_addr1"`
	MailAddr2         string     `json:"mail_addr2" db:"mail_addr2"`
	MailCity          string     `json:"mail_city" db:"mail_city"`
	MailState         string     `json:"mail_state" db:"mail_state"`
	MailZip           string     `json:"mail_zip" db:"mail_zip"`
	LoCode            string     `json:"lo_code" db:"lo_code"`
	MemberStatus      string     `json:"member_status" db:"member_status"`
	NrdsID            string     `json:"nrds_id" db:"nrds_id"`
	DateCreated       *time.Time `json:"date_created" db:"date_created"`
	DateModified      *time.Time `json:"date_modified" db:"date_modified"`
	PhotoCount        *int       `json:"photo_count" db:"photo_count"`
	PhotoDateModified *time.Time `json:"photo_date_modified" db:"photo_date_modified"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// NormalizeName title-cases the first and last name fields. Runs on every
// load, so it must be idempotent.
func (a *Agent) NormalizeName() {
	a.FirstName = NormalizeNameField(a.FirstName)
	a.LastName = NormalizeNameField(a.LastName)
}

// NormalizeNameField lower-cases then title-cases each whitespace-separated
// token. A token starting with "Mc" gets the following rune upper-cased as
// well, so "mcdonald" comes out "McDonald".
func NormalizeNameField(name string) string {
	if name == "" {
		return ""
	}
	tokens := strings.Fields(name)
	for i, tok := range tokens {
		tokens[i] = titleToken(strings.ToLower(tok))
	}
	return strings.Join(tokens, " ")
}

func titleToken(tok string) string {
	runes := []rune(tok)
	if len(runes) == 0 {
		return tok
	}
	runes[0] = unicode.ToUpper(runes[0])
	if len(runes) > 2 && runes[0] == 'M' && runes[1] == 'c' {
		runes[2] = unicode.ToUpper(runes[2])
	}
	return string(runes)
}
