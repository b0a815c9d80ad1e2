package etl

import (
	"fmt"
	"strconv"

	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/common"
)

// entity is one vector point before embedding.
type entity struct {
	pointID string
	text    string
	payload map[string]any
}

// CompanyText is the embedding input of a company. Empty fields are left out.
func CompanyText(c common.Company) string {
	employees := ""
	if c.EmployeeCount != nil {
		employees = "employees " + strconv.Itoa(*c.EmployeeCount)
	}
	return util.JoinNonEmpty(" | ", c.Name, c.Domain, c.Industry, employees, c.Location)
}

// PersonText is the embedding input of a person working at c.
func PersonText(p common.Person, c common.Company) string {
	company := ""
	switch {
	case c.Name != "" && c.Domain != "":
		company = fmt.Sprintf("company %s (%s)", c.Name, c.Domain)
	case c.Name != "":
		company = "company " + c.Name
	case c.Domain != "":
		company = fmt.Sprintf("company (%s)", c.Domain)
	}
	return util.JoinNonEmpty(" | ", p.FullName, p.Title, p.Department, company)
}

func companyPayload(pointID string, c common.Company) map[string]any {
	payload := map[string]any{
		"type":   common.TypeCompany,
		"id":     pointID,
		"ext_id": c.ID,
		"name":   c.Name,
		"domain": c.Domain,
	}
	put(payload, "external_id", c.ExternalID)
	put(payload, "industry", c.Industry)
	put(payload, "location", c.Location)
	put(payload, "website", c.Website)
	if c.EmployeeCount != nil {
		payload["employee_count"] = *c.EmployeeCount
	}
	if c.Rating != nil {
		payload["rating"] = *c.Rating
	}
	if len(c.Types) > 0 {
		payload["types"] = c.Types
	}
	return payload
}

func personPayload(pointID string, p common.Person, c common.Company) map[string]any {
	payload := map[string]any{
		"type":           common.TypePerson,
		"id":             pointID,
		"ext_id":         p.ID,
		"full_name":      p.FullName,
		"company_domain": c.Domain,
	}
	put(payload, "external_id", p.ExternalID)
	put(payload, "company_name", c.Name)
	put(payload, "title", p.Title)
	put(payload, "department", p.Department)
	put(payload, "seniority", p.Seniority)
	put(payload, "linkedin", p.LinkedIn)
	if p.Confidence != nil {
		payload["confidence"] = *p.Confidence
	}
	if len(p.Emails) > 0 {
		payload["emails"] = p.Emails
	}
	return payload
}

func put(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

// buildEntities lists companies and their people in payload order. A point
// id seen twice keeps its first occurrence.
func buildEntities(companies []common.Company) []entity {
	seen := map[string]struct{}{}
	out := make([]entity, 0, len(companies))
	add := func(e entity) {
		if _, ok := seen[e.pointID]; ok {
			return
		}
		seen[e.pointID] = struct{}{}
		out = append(out, e)
	}
	for _, c := range companies {
		id := util.PointID(common.TypeCompany, c.ID)
		add(entity{pointID: id, text: CompanyText(c), payload: companyPayload(id, c)})
		for _, p := range c.People {
			pid := util.PointID(common.TypePerson, p.ID)
			add(entity{pointID: pid, text: PersonText(p, c), payload: personPayload(pid, p, c)})
		}
	}
	return out
}
