// Package places is a directory source over the Places text search API.
package places

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
	Name           = "places"
	DefaultBaseURL = "https://places.googleapis.com"

	maxPageSize = 20
	fieldMask   = "places.id,places.displayName,places.websiteUri,places.formattedAddress," +
		"places.primaryType,places.types,places.rating,nextPageToken"
)

type Source struct {
	client  *source.Client
	apiKey  string
	baseURL string
}

// New creates the adapter. An empty API key is a configuration error.
func New(cfg source.Config) (source.DirectorySource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: PLACES_API_KEY is not set", common.ErrConfiguration)
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Source{
		client:  source.NewClient(Name, cfg),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
	}, nil
}

func (s *Source) Name() string { return Name }

type searchRequest struct {
	TextQuery string `json:"textQuery"`
	PageSize  int    `json:"pageSize"`
	PageToken string `json:"pageToken,omitempty"`
}

type place struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	WebsiteURI       string   `json:"websiteUri"`
	FormattedAddress string   `json:"formattedAddress"`
	PrimaryType      string   `json:"primaryType"`
	Types            []string `json:"types"`
	Rating           *float64 `json:"rating"`
}

type searchResponse struct {
	Places        []place `json:"places"`
	NextPageToken string  `json:"nextPageToken"`
}

// Search pages through the results until limit companies with a website
// were collected or the provider runs out of pages.
func (s *Source) Search(ctx context.Context, query string, limit int) ([]common.Company, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		companies []common.Company
		token     string
	)
	for len(companies) < limit {
		var resp searchResponse
		err := s.client.DoJSON(ctx, source.Request{
			Method: http.MethodPost,
			URL:    s.baseURL + "/v1/places:searchText",
			Header: http.Header{
				"X-Goog-Api-Key":   {s.apiKey},
				"X-Goog-FieldMask": {fieldMask},
			},
			Body: searchRequest{
				TextQuery: query,
				PageSize:  min(maxPageSize, limit-len(companies)),
				PageToken: token,
			},
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("places search %q: %w", query, err)
		}

		for _, p := range resp.Places {
			c, ok := toCompany(p)
			if !ok {
				logger.Debug("[Places] Skipping result without website", "id", p.ID, "name", p.DisplayName.Text)
				continue
			}
			companies = append(companies, c)
			if len(companies) == limit {
				break
			}
		}

		if resp.NextPageToken == "" || len(resp.Places) == 0 {
			break
		}
		token = resp.NextPageToken
	}

	return companies, nil
}

func toCompany(p place) (common.Company, bool) {
	if p.ID == "" {
		return common.Company{}, false
	}
	domain := util.NormalizeDomain(p.WebsiteURI)
	if domain == "" {
		return common.Company{}, false
	}
	name := strings.TrimSpace(p.DisplayName.Text)
	if name == "" {
		name = domain
	}
	return common.Company{
		ID:         Name + ":" + p.ID,
		ExternalID: p.ID,
		Name:       name,
		Domain:     domain,
		Industry:   p.PrimaryType,
		Location:   p.FormattedAddress,
		Website:    p.WebsiteURI,
		Rating:     p.Rating,
		Types:      p.Types,
	}, true
}
