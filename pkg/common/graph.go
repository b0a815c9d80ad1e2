package common

// Node labels and relationship types of the property graph.
const (
	LabelCompany = "Company"
	LabelPerson  = "Person"
	LabelEmail   = "Email"

	RelWorksAt  = "WORKS_AT"
	RelHasEmail = "HAS_EMAIL"
)

// CompanyView is a company with every linked person and the union of their
// emails.
type CompanyView struct {
	Company Company  `json:"company"`
	People  []Person `json:"people"`
	Emails  []string `json:"emails"`
}

// PersonView is a person with the companies they work at.
type PersonView struct {
	Person    Person    `json:"person"`
	Companies []Company `json:"companies"`
	Emails    []string  `json:"emails"`
}

// CompanyCount pairs a company with the number of people working there.
type CompanyCount struct {
	Company     Company `json:"company"`
	PeopleCount int     `json:"people_count"`
}

// PersonCount pairs a person with their employers and email count.
type PersonCount struct {
	Person     Person   `json:"person"`
	Companies  []string `json:"companies"`
	EmailCount int      `json:"email_count"`
}

// IndustryStat summarises one industry.
type IndustryStat struct {
	Industry  string    `json:"industry"`
	Companies int       `json:"companies"`
	People    int       `json:"people"`
	Sample    []Company `json:"sample"`
}

// Node is a graph vertex addressed by its natural key.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is a directed relationship between two natural keys.
type Edge struct {
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Path starts at the expanded node. len(Nodes) == len(Relationships)+1.
type Path struct {
	Nodes         []Node `json:"nodes"`
	Relationships []Edge `json:"relationships"`
}

// Neighborhood is the result of expanding a node.
type Neighborhood struct {
	Node  Node   `json:"node"`
	Paths []Path `json:"paths"`
}
