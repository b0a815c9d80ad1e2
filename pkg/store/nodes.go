package store

import "github.com/OFFIS-RIT/atlas/pkg/common"

func CompanyNode(c common.Company) common.Node {
	props := map[string]any{
		"domain": c.Domain,
		"id":     c.ID,
		"name":   c.Name,
	}
	putString(props, "industry", c.Industry)
	putString(props, "location", c.Location)
	putString(props, "website", c.Website)
	if c.EmployeeCount != nil {
		props["employee_count"] = *c.EmployeeCount
	}
	if c.Rating != nil {
		props["rating"] = *c.Rating
	}
	return common.Node{ID: c.Domain, Label: common.LabelCompany, Properties: props}
}

func PersonNode(p common.Person) common.Node {
	props := map[string]any{
		"id":        p.ID,
		"full_name": p.FullName,
	}
	putString(props, "title", p.Title)
	putString(props, "department", p.Department)
	putString(props, "seniority", p.Seniority)
	putString(props, "linkedin", p.LinkedIn)
	if p.Confidence != nil {
		props["confidence"] = *p.Confidence
	}
	return common.Node{ID: p.ID, Label: common.LabelPerson, Properties: props}
}

func EmailNode(address string) common.Node {
	return common.Node{
		ID:         address,
		Label:      common.LabelEmail,
		Properties: map[string]any{"address": address},
	}
}

func WorksAtEdge(personID, domain, batchID string) common.Edge {
	return common.Edge{
		Type:       common.RelWorksAt,
		From:       personID,
		To:         domain,
		Properties: map[string]any{"batch_id": batchID},
	}
}

func HasEmailEdge(personID, address string) common.Edge {
	return common.Edge{Type: common.RelHasEmail, From: personID, To: address}
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}
