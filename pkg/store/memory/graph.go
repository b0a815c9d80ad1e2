// Package memory implements the graph and vector stores in process memory.
// It backs tests and single-process demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/store"
)

type companyRow struct {
	company   common.Company
	createdAt time.Time
	updatedAt time.Time
}

type personRow struct {
	person    common.Person
	createdAt time.Time
	updatedAt time.Time
}

type pair struct{ a, b string }

// Graph is an in-memory store.GraphStore.
type Graph struct {
	mu        sync.RWMutex
	companies map[string]*companyRow
	persons   map[string]*personRow
	emails    map[string]time.Time
	worksAt   map[pair]string
	hasEmail  map[pair]struct{}

	// FailUpsert, when set, makes UpsertBatch fail before touching state.
	FailUpsert error
}

func NewGraph() *Graph {
	return &Graph{
		companies: make(map[string]*companyRow),
		persons:   make(map[string]*personRow),
		emails:    make(map[string]time.Time),
		worksAt:   make(map[pair]string),
		hasEmail:  make(map[pair]struct{}),
	}
}

func (g *Graph) UpsertBatch(ctx context.Context, batchID string, companies []common.Company) (store.UpsertStats, error) {
	if g.FailUpsert != nil {
		return store.UpsertStats{}, g.FailUpsert
	}
	for i, c := range companies {
		if c.Domain == "" {
			return store.UpsertStats{}, fmt.Errorf("%w: companies[%d]", common.ErrMissingDomain, i)
		}
		for _, p := range c.People {
			if p.ID == "" {
				return store.UpsertStats{}, fmt.Errorf("%w: person without id at %s", common.ErrInvalidInput, c.Domain)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return store.UpsertStats{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC()
	seenC, seenP, seenE := map[string]struct{}{}, map[string]struct{}{}, map[string]struct{}{}
	for _, c := range companies {
		g.mergeCompany(c, now)
		seenC[c.Domain] = struct{}{}
		for _, p := range c.People {
			g.mergePerson(p, now)
			seenP[p.ID] = struct{}{}
			key := pair{p.ID, c.Domain}
			if _, ok := g.worksAt[key]; !ok {
				g.worksAt[key] = batchID
			}
			for _, addr := range p.Emails {
				addr = strings.ToLower(addr)
				if addr == "" {
					continue
				}
				if _, ok := g.emails[addr]; !ok {
					g.emails[addr] = now
				}
				g.hasEmail[pair{p.ID, addr}] = struct{}{}
				seenE[addr] = struct{}{}
			}
		}
	}
	return store.UpsertStats{Companies: len(seenC), People: len(seenP), Emails: len(seenE)}, nil
}

func (g *Graph) mergeCompany(c common.Company, now time.Time) {
	c.People = nil
	row, ok := g.companies[c.Domain]
	if !ok {
		g.companies[c.Domain] = &companyRow{company: c, createdAt: now, updatedAt: now}
		return
	}
	row.company.Name = c.Name
	if c.Location != "" {
		row.company.Location = c.Location
	}
	if c.Industry != "" {
		row.company.Industry = c.Industry
	}
	row.updatedAt = now
}

func (g *Graph) mergePerson(p common.Person, now time.Time) {
	p.Emails = nil
	row, ok := g.persons[p.ID]
	if !ok {
		g.persons[p.ID] = &personRow{person: p, createdAt: now, updatedAt: now}
		return
	}
	cur := &row.person
	cur.FullName = p.FullName
	if p.Title != "" {
		cur.Title = p.Title
	}
	if p.Department != "" {
		cur.Department = p.Department
	}
	if p.Seniority != "" {
		cur.Seniority = p.Seniority
	}
	if p.LinkedIn != "" {
		cur.LinkedIn = p.LinkedIn
	}
	if p.Confidence != nil {
		cur.Confidence = p.Confidence
	}
	row.updatedAt = now
}

// personEmails must be called with the lock held.
func (g *Graph) personEmails(id string) []string {
	var out []string
	for k := range g.hasEmail {
		if k.a == id {
			out = append(out, k.b)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Graph) personWithEmails(id string) common.Person {
	p := g.persons[id].person
	p.Emails = g.personEmails(id)
	if p.Emails == nil {
		p.Emails = []string{}
	}
	return p
}

func (g *Graph) CompanyByDomain(ctx context.Context, domain string) (*common.CompanyView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	row, ok := g.companies[strings.ToLower(domain)]
	if !ok {
		return nil, nil
	}
	view := &common.CompanyView{Company: row.company, People: []common.Person{}, Emails: []string{}}
	var emails []string
	for k := range g.worksAt {
		if k.b != row.company.Domain {
			continue
		}
		p := g.personWithEmails(k.a)
		view.People = append(view.People, p)
		emails = append(emails, p.Emails...)
	}
	sortPeople(view.People)
	if d := store.DedupeStrings(emails); d != nil {
		view.Emails = d
	}
	return view, nil
}

func (g *Graph) PeopleByName(ctx context.Context, q string) ([]common.PersonView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	needle := strings.ToLower(q)
	out := []common.PersonView{}
	for id, row := range g.persons {
		if !strings.Contains(strings.ToLower(row.person.FullName), needle) {
			continue
		}
		p := g.personWithEmails(id)
		view := common.PersonView{Person: p, Companies: []common.Company{}, Emails: p.Emails}
		for k := range g.worksAt {
			if k.a == id {
				view.Companies = append(view.Companies, g.companies[k.b].company)
			}
		}
		sort.Slice(view.Companies, func(i, j int) bool { return view.Companies[i].Domain < view.Companies[j].Domain })
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Person.FullName == out[j].Person.FullName {
			return out[i].Person.ID < out[j].Person.ID
		}
		return out[i].Person.FullName < out[j].Person.FullName
	})
	return out, nil
}

func (g *Graph) CompaniesByIndustry(ctx context.Context, industry string) ([]common.CompanyCount, error) {
	return g.companiesWhere(func(c common.Company) bool { return c.Industry == industry }), nil
}

func (g *Graph) CompaniesByLocation(ctx context.Context, location string) ([]common.CompanyCount, error) {
	return g.companiesWhere(func(c common.Company) bool { return c.Location == location }), nil
}

func (g *Graph) companiesWhere(match func(common.Company) bool) []common.CompanyCount {
	g.mu.RLock()
	defer g.mu.RUnlock()
	counts := g.peopleCounts()
	out := []common.CompanyCount{}
	for domain, row := range g.companies {
		if match(row.company) {
			out = append(out, common.CompanyCount{Company: row.company, PeopleCount: counts[domain]})
		}
	}
	sortCompanyCounts(out)
	return out
}

func (g *Graph) peopleCounts() map[string]int {
	counts := make(map[string]int, len(g.companies))
	for k := range g.worksAt {
		counts[k.b]++
	}
	return counts
}

func (g *Graph) PeopleByDepartment(ctx context.Context, department string) ([]common.PersonCount, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := []common.PersonCount{}
	for id, row := range g.persons {
		if row.person.Department != department {
			continue
		}
		p := g.personWithEmails(id)
		pc := common.PersonCount{Person: p, Companies: []string{}, EmailCount: len(p.Emails)}
		for k := range g.worksAt {
			if k.a == id {
				pc.Companies = append(pc.Companies, k.b)
			}
		}
		sort.Strings(pc.Companies)
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmailCount != out[j].EmailCount {
			return out[i].EmailCount > out[j].EmailCount
		}
		if out[i].Person.FullName != out[j].Person.FullName {
			return out[i].Person.FullName < out[j].Person.FullName
		}
		return out[i].Person.ID < out[j].Person.ID
	})
	return out, nil
}

func (g *Graph) IndustryAnalytics(ctx context.Context, sampleSize int) ([]common.IndustryStat, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	counts := g.peopleCounts()
	byIndustry := map[string]*common.IndustryStat{}
	members := map[string][]common.Company{}
	for domain, row := range g.companies {
		ind := row.company.Industry
		if ind == "" {
			continue
		}
		st, ok := byIndustry[ind]
		if !ok {
			st = &common.IndustryStat{Industry: ind}
			byIndustry[ind] = st
		}
		st.Companies++
		st.People += counts[domain]
		members[ind] = append(members[ind], row.company)
	}
	out := make([]common.IndustryStat, 0, len(byIndustry))
	for ind, st := range byIndustry {
		sample := members[ind]
		sort.Slice(sample, func(i, j int) bool {
			if sample[i].Name == sample[j].Name {
				return sample[i].Domain < sample[j].Domain
			}
			return sample[i].Name < sample[j].Name
		})
		if len(sample) > sampleSize {
			sample = sample[:sampleSize]
		}
		st.Sample = sample
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Companies != out[j].Companies {
			return out[i].Companies > out[j].Companies
		}
		return out[i].Industry < out[j].Industry
	})
	return out, nil
}

func (g *Graph) ResolveNode(ctx context.Context, id string) (*common.Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if row, ok := g.companies[strings.ToLower(id)]; ok {
		n := store.CompanyNode(row.company)
		return &n, nil
	}
	if row, ok := g.persons[id]; ok {
		n := store.PersonNode(row.person)
		return &n, nil
	}
	if _, ok := g.emails[strings.ToLower(id)]; ok {
		n := store.EmailNode(strings.ToLower(id))
		return &n, nil
	}
	return nil, nil
}

func (g *Graph) Adjacent(ctx context.Context, node common.Node) ([]store.Hop, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var hops []store.Hop
	switch node.Label {
	case common.LabelCompany:
		for k, batch := range g.worksAt {
			if k.b == node.ID {
				hops = append(hops, store.Hop{
					Edge: store.WorksAtEdge(k.a, k.b, batch),
					Node: store.PersonNode(g.persons[k.a].person),
				})
			}
		}
	case common.LabelPerson:
		for k, batch := range g.worksAt {
			if k.a == node.ID {
				hops = append(hops, store.Hop{
					Edge: store.WorksAtEdge(k.a, k.b, batch),
					Node: store.CompanyNode(g.companies[k.b].company),
				})
			}
		}
		for k := range g.hasEmail {
			if k.a == node.ID {
				hops = append(hops, store.Hop{Edge: store.HasEmailEdge(k.a, k.b), Node: store.EmailNode(k.b)})
			}
		}
	case common.LabelEmail:
		for k := range g.hasEmail {
			if k.b == node.ID {
				hops = append(hops, store.Hop{
					Edge: store.HasEmailEdge(k.a, k.b),
					Node: store.PersonNode(g.persons[k.a].person),
				})
			}
		}
	}
	sort.Slice(hops, func(i, j int) bool {
		if hops[i].Edge.Type != hops[j].Edge.Type {
			return hops[i].Edge.Type > hops[j].Edge.Type
		}
		return hops[i].Node.ID < hops[j].Node.ID
	})
	return hops, nil
}

func (g *Graph) Counts(ctx context.Context) (store.GraphCounts, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return store.GraphCounts{
		Companies: len(g.companies),
		People:    len(g.persons),
		Emails:    len(g.emails),
		WorksAt:   len(g.worksAt),
		HasEmail:  len(g.hasEmail),
	}, nil
}

// WorksAtBatch returns the batch that created the relation, "" if absent.
func (g *Graph) WorksAtBatch(personID, domain string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.worksAt[pair{personID, domain}]
}

// UpdatedAt returns when the company was last merged.
func (g *Graph) UpdatedAt(domain string) time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if row, ok := g.companies[domain]; ok {
		return row.updatedAt
	}
	return time.Time{}
}

func sortPeople(people []common.Person) {
	sort.Slice(people, func(i, j int) bool {
		if people[i].FullName == people[j].FullName {
			return people[i].ID < people[j].ID
		}
		return people[i].FullName < people[j].FullName
	})
}

func sortCompanyCounts(out []common.CompanyCount) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeopleCount != out[j].PeopleCount {
			return out[i].PeopleCount > out[j].PeopleCount
		}
		if out[i].Company.Name != out[j].Company.Name {
			return out[i].Company.Name < out[j].Company.Name
		}
		return out[i].Company.Domain < out[j].Company.Domain
	})
}
