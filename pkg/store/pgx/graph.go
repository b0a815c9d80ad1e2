package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/store"
)

const (
	companyColumns = `c.domain, c.id, COALESCE(c.external_id, ''), c.name, COALESCE(c.industry, ''),
		c.employee_count, COALESCE(c.location, ''), COALESCE(c.website, ''), c.rating, COALESCE(c.types, '{}')`
	personColumns = `p.id, COALESCE(p.external_id, ''), p.full_name, COALESCE(p.title, ''),
		COALESCE(p.department, ''), COALESCE(p.seniority, ''), COALESCE(p.linkedin, ''), p.confidence`
	personEmails = `COALESCE((SELECT array_agg(he.email_address ORDER BY he.email_address)
		FROM has_email he WHERE he.person_id = p.id), '{}')`
)

const upsertCompanySQL = `
INSERT INTO companies (domain, id, external_id, name, industry, employee_count, location, website, rating, types)
VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
ON CONFLICT (domain) DO UPDATE SET
	name = EXCLUDED.name,
	location = COALESCE(EXCLUDED.location, companies.location),
	industry = COALESCE(EXCLUDED.industry, companies.industry),
	updated_at = now()`

const upsertPersonSQL = `
INSERT INTO persons (id, external_id, full_name, title, department, seniority, linkedin, confidence)
VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)
ON CONFLICT (id) DO UPDATE SET
	full_name = EXCLUDED.full_name,
	title = COALESCE(EXCLUDED.title, persons.title),
	department = COALESCE(EXCLUDED.department, persons.department),
	seniority = COALESCE(EXCLUDED.seniority, persons.seniority),
	linkedin = COALESCE(EXCLUDED.linkedin, persons.linkedin),
	confidence = COALESCE(EXCLUDED.confidence, persons.confidence),
	updated_at = now()`

const (
	insertWorksAtSQL  = `INSERT INTO works_at (person_id, company_domain, batch_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	insertEmailSQL    = `INSERT INTO emails (address) VALUES ($1) ON CONFLICT DO NOTHING`
	insertHasEmailSQL = `INSERT INTO has_email (person_id, email_address) VALUES ($1, $2) ON CONFLICT DO NOTHING`
)

// GraphStore is the PostgreSQL store.GraphStore.
type GraphStore struct {
	conn pgxIConn
}

func NewGraphStore(conn pgxIConn) *GraphStore {
	return &GraphStore{conn: conn}
}

func companyDest(c *common.Company) []any {
	return []any{
		&c.Domain, &c.ID, &c.ExternalID, &c.Name, &c.Industry,
		&c.EmployeeCount, &c.Location, &c.Website, &c.Rating, &c.Types,
	}
}

func personDest(p *common.Person) []any {
	return []any{
		&p.ID, &p.ExternalID, &p.FullName, &p.Title,
		&p.Department, &p.Seniority, &p.LinkedIn, &p.Confidence,
	}
}

// UpsertBatch sends every statement of the batch in one round trip inside a
// single transaction.
func (s *GraphStore) UpsertBatch(ctx context.Context, batchID string, companies []common.Company) (store.UpsertStats, error) {
	var stats store.UpsertStats
	if len(companies) == 0 {
		return stats, nil
	}

	b := &pgxv5.Batch{}
	people := map[string]struct{}{}
	emails := map[string]struct{}{}
	for i, c := range companies {
		if c.Domain == "" {
			return stats, fmt.Errorf("%w: companies[%d]", common.ErrMissingDomain, i)
		}
		b.Queue(upsertCompanySQL,
			c.Domain, c.ID, c.ExternalID, c.Name, c.Industry,
			c.EmployeeCount, c.Location, c.Website, c.Rating, c.Types,
		)
		for _, p := range c.People {
			if p.ID == "" {
				return stats, fmt.Errorf("%w: person without id at %s", common.ErrInvalidInput, c.Domain)
			}
			b.Queue(upsertPersonSQL,
				p.ID, p.ExternalID, p.FullName, p.Title,
				p.Department, p.Seniority, p.LinkedIn, p.Confidence,
			)
			b.Queue(insertWorksAtSQL, p.ID, c.Domain, batchID)
			people[p.ID] = struct{}{}
			for _, addr := range p.Emails {
				addr = strings.ToLower(addr)
				if addr == "" {
					continue
				}
				b.Queue(insertEmailSQL, addr)
				b.Queue(insertHasEmailSQL, p.ID, addr)
				emails[addr] = struct{}{}
			}
		}
	}

	seen := map[string]struct{}{}
	for _, c := range companies {
		seen[c.Domain] = struct{}{}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return stats, fmt.Errorf("upsert batch %s: %w", batchID, err)
		}
	}
	if err := br.Close(); err != nil {
		return stats, err
	}
	if err := tx.Commit(ctx); err != nil {
		return stats, err
	}

	stats = store.UpsertStats{Companies: len(seen), People: len(people), Emails: len(emails)}
	logger.Debug("[Graph] Upserted batch", "batch_id", batchID, "statements", b.Len(),
		"companies", stats.Companies, "people", stats.People, "emails", stats.Emails)
	return stats, nil
}

func (s *GraphStore) CompanyByDomain(ctx context.Context, domain string) (*common.CompanyView, error) {
	var c common.Company
	err := s.conn.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies c WHERE c.domain = $1`,
		strings.ToLower(domain),
	).Scan(companyDest(&c)...)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+personColumns+`, `+personEmails+`
		FROM persons p JOIN works_at w ON w.person_id = p.id
		WHERE w.company_domain = $1
		ORDER BY p.full_name, p.id`, c.Domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	view := &common.CompanyView{Company: c, People: []common.Person{}, Emails: []string{}}
	var all []string
	for rows.Next() {
		var p common.Person
		if err := rows.Scan(append(personDest(&p), &p.Emails)...); err != nil {
			return nil, err
		}
		view.People = append(view.People, p)
		all = append(all, p.Emails...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if d := store.DedupeStrings(all); d != nil {
		view.Emails = d
	}
	return view, nil
}

// likePattern turns q into an ILIKE substring pattern with wildcards escaped.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func (s *GraphStore) PeopleByName(ctx context.Context, q string) ([]common.PersonView, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+personColumns+`, `+personEmails+`
		FROM persons p
		WHERE p.full_name ILIKE $1 ESCAPE '\'
		ORDER BY p.full_name, p.id`, likePattern(q))
	if err != nil {
		return nil, err
	}
	out := []common.PersonView{}
	var ids []string
	for rows.Next() {
		var v common.PersonView
		if err := rows.Scan(append(personDest(&v.Person), &v.Person.Emails)...); err != nil {
			rows.Close()
			return nil, err
		}
		v.Emails = v.Person.Emails
		v.Companies = []common.Company{}
		out = append(out, v)
		ids = append(ids, v.Person.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	rows, err = s.conn.Query(ctx, `
		SELECT w.person_id, `+companyColumns+`
		FROM works_at w JOIN companies c ON c.domain = w.company_domain
		WHERE w.person_id = ANY($1)
		ORDER BY c.domain`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byPerson := map[string][]common.Company{}
	for rows.Next() {
		var pid string
		var c common.Company
		if err := rows.Scan(append([]any{&pid}, companyDest(&c)...)...); err != nil {
			return nil, err
		}
		byPerson[pid] = append(byPerson[pid], c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if cs, ok := byPerson[out[i].Person.ID]; ok {
			out[i].Companies = cs
		}
	}
	return out, nil
}

func (s *GraphStore) CompaniesByIndustry(ctx context.Context, industry string) ([]common.CompanyCount, error) {
	return s.companyCounts(ctx, "c.industry = $1", industry)
}

func (s *GraphStore) CompaniesByLocation(ctx context.Context, location string) ([]common.CompanyCount, error) {
	return s.companyCounts(ctx, "c.location = $1", location)
}

func (s *GraphStore) companyCounts(ctx context.Context, where string, arg string) ([]common.CompanyCount, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+companyColumns+`, count(w.person_id)
		FROM companies c LEFT JOIN works_at w ON w.company_domain = c.domain
		WHERE `+where+`
		GROUP BY c.domain
		ORDER BY count(w.person_id) DESC, c.name, c.domain`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []common.CompanyCount{}
	for rows.Next() {
		var cc common.CompanyCount
		if err := rows.Scan(append(companyDest(&cc.Company), &cc.PeopleCount)...); err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func (s *GraphStore) PeopleByDepartment(ctx context.Context, department string) ([]common.PersonCount, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+personColumns+`, `+personEmails+`,
			COALESCE(array_agg(DISTINCT w.company_domain ORDER BY w.company_domain)
				FILTER (WHERE w.company_domain IS NOT NULL), '{}')
		FROM persons p LEFT JOIN works_at w ON w.person_id = p.id
		WHERE p.department = $1
		GROUP BY p.id
		ORDER BY (SELECT count(*) FROM has_email he WHERE he.person_id = p.id) DESC, p.full_name, p.id`,
		department)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []common.PersonCount{}
	for rows.Next() {
		var pc common.PersonCount
		dest := append(personDest(&pc.Person), &pc.Person.Emails, &pc.Companies)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		pc.EmailCount = len(pc.Person.Emails)
		out = append(out, pc)
	}
	return out, rows.Err()
}

func (s *GraphStore) IndustryAnalytics(ctx context.Context, sampleSize int) ([]common.IndustryStat, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT c.industry, count(DISTINCT c.domain), count(w.person_id)
		FROM companies c LEFT JOIN works_at w ON w.company_domain = c.domain
		WHERE c.industry IS NOT NULL
		GROUP BY c.industry
		ORDER BY 2 DESC, 1`)
	if err != nil {
		return nil, err
	}
	out := []common.IndustryStat{}
	index := map[string]int{}
	for rows.Next() {
		st := common.IndustryStat{Sample: []common.Company{}}
		if err := rows.Scan(&st.Industry, &st.Companies, &st.People); err != nil {
			rows.Close()
			return nil, err
		}
		index[st.Industry] = len(out)
		out = append(out, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 || sampleSize <= 0 {
		return out, nil
	}

	rows, err = s.conn.Query(ctx, `
		SELECT `+companyColumns+`
		FROM (
			SELECT *, row_number() OVER (PARTITION BY industry ORDER BY name, domain) AS rn
			FROM companies WHERE industry IS NOT NULL
		) c
		WHERE c.rn <= $1
		ORDER BY c.industry, c.name, c.domain`, sampleSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c common.Company
		if err := rows.Scan(companyDest(&c)...); err != nil {
			return nil, err
		}
		if i, ok := index[c.Industry]; ok {
			out[i].Sample = append(out[i].Sample, c)
		}
	}
	return out, rows.Err()
}

func (s *GraphStore) ResolveNode(ctx context.Context, id string) (*common.Node, error) {
	var c common.Company
	err := s.conn.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies c WHERE c.domain = $1`,
		strings.ToLower(id)).Scan(companyDest(&c)...)
	switch {
	case err == nil:
		n := store.CompanyNode(c)
		return &n, nil
	case !errors.Is(err, pgxv5.ErrNoRows):
		return nil, err
	}

	var p common.Person
	err = s.conn.QueryRow(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.id = $1`, id).
		Scan(personDest(&p)...)
	switch {
	case err == nil:
		n := store.PersonNode(p)
		return &n, nil
	case !errors.Is(err, pgxv5.ErrNoRows):
		return nil, err
	}

	var addr string
	err = s.conn.QueryRow(ctx, `SELECT address FROM emails WHERE address = $1`, strings.ToLower(id)).Scan(&addr)
	switch {
	case err == nil:
		n := store.EmailNode(addr)
		return &n, nil
	case errors.Is(err, pgxv5.ErrNoRows):
		return nil, nil
	default:
		return nil, err
	}
}

func (s *GraphStore) Adjacent(ctx context.Context, node common.Node) ([]store.Hop, error) {
	switch node.Label {
	case common.LabelCompany:
		return s.hopsToPersons(ctx, `
			SELECT w.batch_id, `+personColumns+`
			FROM works_at w JOIN persons p ON p.id = w.person_id
			WHERE w.company_domain = $1
			ORDER BY p.id`, node.ID, func(p common.Person, batch string) common.Edge {
			return store.WorksAtEdge(p.ID, node.ID, batch)
		})
	case common.LabelEmail:
		return s.hopsToPersons(ctx, `
			SELECT '', `+personColumns+`
			FROM has_email he JOIN persons p ON p.id = he.person_id
			WHERE he.email_address = $1
			ORDER BY p.id`, node.ID, func(p common.Person, _ string) common.Edge {
			return store.HasEmailEdge(p.ID, node.ID)
		})
	case common.LabelPerson:
		return s.personHops(ctx, node.ID)
	default:
		return nil, fmt.Errorf("%w: unknown label %q", common.ErrInvalidInput, node.Label)
	}
}

func (s *GraphStore) hopsToPersons(
	ctx context.Context,
	sql string,
	id string,
	edge func(common.Person, string) common.Edge,
) ([]store.Hop, error) {
	rows, err := s.conn.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hops []store.Hop
	for rows.Next() {
		var batch string
		var p common.Person
		if err := rows.Scan(append([]any{&batch}, personDest(&p)...)...); err != nil {
			return nil, err
		}
		hops = append(hops, store.Hop{Edge: edge(p, batch), Node: store.PersonNode(p)})
	}
	return hops, rows.Err()
}

func (s *GraphStore) personHops(ctx context.Context, personID string) ([]store.Hop, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT w.batch_id, `+companyColumns+`
		FROM works_at w JOIN companies c ON c.domain = w.company_domain
		WHERE w.person_id = $1
		ORDER BY c.domain`, personID)
	if err != nil {
		return nil, err
	}
	var hops []store.Hop
	for rows.Next() {
		var batch string
		var c common.Company
		if err := rows.Scan(append([]any{&batch}, companyDest(&c)...)...); err != nil {
			rows.Close()
			return nil, err
		}
		hops = append(hops, store.Hop{
			Edge: store.WorksAtEdge(personID, c.Domain, batch),
			Node: store.CompanyNode(c),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.conn.Query(ctx,
		`SELECT email_address FROM has_email WHERE person_id = $1 ORDER BY email_address`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		hops = append(hops, store.Hop{Edge: store.HasEmailEdge(personID, addr), Node: store.EmailNode(addr)})
	}
	return hops, rows.Err()
}

func (s *GraphStore) Counts(ctx context.Context) (store.GraphCounts, error) {
	var gc store.GraphCounts
	err := s.conn.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM companies),
			(SELECT count(*) FROM persons),
			(SELECT count(*) FROM emails),
			(SELECT count(*) FROM works_at),
			(SELECT count(*) FROM has_email)`,
	).Scan(&gc.Companies, &gc.People, &gc.Emails, &gc.WorksAt, &gc.HasEmail)
	return gc, err
}
