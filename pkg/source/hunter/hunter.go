// Package hunter is a people source over the Hunter domain search API.
package hunter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/source"
)

const (
	Name           = "hunter"
	DefaultBaseURL = "https://api.hunter.io"
	DefaultLimit   = 10
)

type Source struct {
	client  *source.Client
	apiKey  string
	baseURL string
	limit   int
}

func New(cfg source.Config) (source.PeopleSource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: HUNTER_API_KEY is not set", common.ErrConfiguration)
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Source{
		client:  source.NewClient(Name, cfg),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		limit:   DefaultLimit,
	}, nil
}

func (s *Source) Name() string { return Name }

type email struct {
	Value      string   `json:"value"`
	Confidence *float64 `json:"confidence"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Position   string   `json:"position"`
	Seniority  string   `json:"seniority"`
	Department string   `json:"department"`
	LinkedIn   string   `json:"linkedin"`
}

type domainSearchResponse struct {
	Data struct {
		Domain string  `json:"domain"`
		Emails []email `json:"emails"`
	} `json:"data"`
}

// FindByCompanyDomain returns one person per email the provider knows for
// domain. Provider errors are logged and yield no people.
func (s *Source) FindByCompanyDomain(ctx context.Context, domain string) ([]common.Person, error) {
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("limit", strconv.Itoa(s.limit))
	q.Set("api_key", s.apiKey)

	var resp domainSearchResponse
	err := s.client.DoJSON(ctx, source.Request{
		Method: http.MethodGet,
		URL:    s.baseURL + "/v2/domain-search?" + q.Encode(),
	}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("[Hunter] Domain search failed", "domain", domain, "err", err)
		return []common.Person{}, nil
	}

	people := make([]common.Person, 0, len(resp.Data.Emails))
	for _, e := range resp.Data.Emails {
		addr := util.NormalizeEmail(e.Value)
		if addr == "" {
			logger.Debug("[Hunter] Skipping malformed email", "domain", domain, "value", e.Value)
			continue
		}
		p := common.Person{
			ID:         Name + ":" + addr,
			ExternalID: addr,
			FullName:   fullName(e.FirstName, e.LastName, addr),
			Title:      e.Position,
			Department: e.Department,
			Seniority:  e.Seniority,
			LinkedIn:   e.LinkedIn,
			Emails:     []string{addr},
		}
		if e.Confidence != nil {
			p.Confidence = source.NormalizeConfidence(*e.Confidence, false)
		}
		people = append(people, p)
	}
	return people, nil
}

func fullName(first, last, addr string) string {
	if name := util.JoinNonEmpty(" ", first, last); name != "" {
		return name
	}
	local, _, _ := strings.Cut(addr, "@")
	return local
}
