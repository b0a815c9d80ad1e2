package common

import "time"

// SchemaVersion is written into every sidecar. Readers reject batches with a
// newer version than they understand.
const SchemaVersion = 1

// Entity types as they appear in vector payloads and search filters.
const (
	TypeCompany = "company"
	TypePerson  = "person"
)

// Company is one organisation found by a directory source.
//
// Domain is the natural key in the graph: two companies with the same domain
// are the same node. Optional attributes are pointers or omitted strings so the
// payload distinguishes "unknown" from "zero".
type Company struct {
	ID            string   `json:"id" validate:"required" jsonschema:"description=Source-prefixed id such as places:ChIJ..."`
	ExternalID    string   `json:"external_id"`
	Name          string   `json:"name" validate:"required"`
	Domain        string   `json:"domain" jsonschema:"description=Lowercase domain without www."`
	Industry      string   `json:"industry,omitempty"`
	EmployeeCount *int     `json:"employee_count,omitempty" validate:"omitempty,min=0"`
	Location      string   `json:"location,omitempty"`
	Website       string   `json:"website,omitempty"`
	Rating        *float64 `json:"rating,omitempty"`
	Types         []string `json:"types,omitempty"`
	People        []Person `json:"people,omitempty" validate:"dive"`
}

// Person is a contact attached to a company by a people source.
// Confidence is always on the 0..100 scale once it leaves an adapter.
type Person struct {
	ID         string   `json:"id" validate:"required"`
	ExternalID string   `json:"external_id"`
	FullName   string   `json:"full_name"`
	Title      string   `json:"title,omitempty"`
	Department string   `json:"department,omitempty"`
	Seniority  string   `json:"seniority,omitempty"`
	LinkedIn   string   `json:"linkedin,omitempty"`
	Confidence *int     `json:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
	Emails     []string `json:"emails"`
}

// Payload is the content of companies.json.
type Payload struct {
	Companies []Company `json:"companies" validate:"dive"`
}

// Sidecar is the content of _meta.json. Its presence marks a batch as
// committed.
type Sidecar struct {
	Source        string    `json:"source"`
	FetchedAt     time.Time `json:"fetched_at"`
	IngestID      string    `json:"ingest_id"`
	BatchID       string    `json:"batch_id"`
	SchemaVersion int       `json:"schema_version"`
	Count         int       `json:"count"`
	Query         string    `json:"query,omitempty"`
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
