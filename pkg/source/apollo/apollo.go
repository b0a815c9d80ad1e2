// Package apollo is a people source over the Apollo people search API.
package apollo

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/source"
)

const (
	Name           = "apollo"
	DefaultBaseURL = "https://api.apollo.io"
	DefaultPerPage = 25
)

type Source struct {
	client  *source.Client
	apiKey  string
	baseURL string
	perPage int
}

func New(cfg source.Config) (source.PeopleSource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: APOLLO_API_KEY is not set", common.ErrConfiguration)
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Source{
		client:  source.NewClient(Name, cfg),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		perPage: DefaultPerPage,
	}, nil
}

func (s *Source) Name() string { return Name }

type searchRequest struct {
	Domains []string `json:"q_organization_domains_list"`
	Page    int      `json:"page"`
	PerPage int      `json:"per_page"`
}

type person struct {
	ID          string   `json:"id"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Departments []string `json:"departments"`
	Seniority   string   `json:"seniority"`
	LinkedInURL string   `json:"linkedin_url"`
	Email       string   `json:"email"`
	Confidence  *float64 `json:"extrapolated_email_confidence"`
}

type searchResponse struct {
	People []person `json:"people"`
}

// FindByCompanyDomain returns the people Apollo lists for domain. People
// without a usable email are dropped.
func (s *Source) FindByCompanyDomain(ctx context.Context, domain string) ([]common.Person, error) {
	var resp searchResponse
	err := s.client.DoJSON(ctx, source.Request{
		Method: http.MethodPost,
		URL:    s.baseURL + "/api/v1/mixed_people/search",
		Header: http.Header{"X-Api-Key": {s.apiKey}},
		Body:   searchRequest{Domains: []string{domain}, Page: 1, PerPage: s.perPage},
	}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("[Apollo] People search failed", "domain", domain, "err", err)
		return []common.Person{}, nil
	}

	people := make([]common.Person, 0, len(resp.People))
	for _, ap := range resp.People {
		addr := util.NormalizeEmail(ap.Email)
		if ap.ID == "" || addr == "" || strings.Contains(addr, "email_not_unlocked") {
			continue
		}
		name := strings.TrimSpace(ap.Name)
		if name == "" {
			name = util.JoinNonEmpty(" ", ap.FirstName, ap.LastName)
		}
		p := common.Person{
			ID:         Name + ":" + ap.ID,
			ExternalID: ap.ID,
			FullName:   name,
			Title:      ap.Title,
			Seniority:  ap.Seniority,
			LinkedIn:   ap.LinkedInURL,
			Emails:     []string{addr},
		}
		if len(ap.Departments) > 0 {
			p.Department = ap.Departments[0]
		}
		if ap.Confidence != nil {
			p.Confidence = source.NormalizeConfidence(*ap.Confidence, true)
		}
		people = append(people, p)
	}
	return people, nil
}
