// Package ingest drives one ingestion run: query a directory source,
// optionally enrich every company with people, and commit the result as an
// immutable batch in the lake.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/OFFIS-RIT/atlas/internal/storage"
	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/metrics"
	"github.com/OFFIS-RIT/atlas/pkg/source"
)

const DefaultWorkers = 4

type Ingestor struct {
	lake      storage.Lake
	directory source.DirectorySource
	people    source.PeopleSource
	workers   int
	now       func() time.Time
}

type NewIngestorParams struct {
	Lake      storage.Lake
	Directory source.DirectorySource
	// People is optional. Without it batches are labelled "companies".
	People source.PeopleSource
	// Workers bounds concurrent enrichment calls. 1 enriches sequentially.
	Workers int
	Clock   func() time.Time
}

func NewIngestor(params NewIngestorParams) (*Ingestor, error) {
	if params.Lake == nil {
		return nil, errors.New("ingest: lake is required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("%w: no directory source configured", common.ErrConfiguration)
	}
	workers := params.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Ingestor{
		lake:      params.Lake,
		directory: params.Directory,
		people:    params.People,
		workers:   workers,
		now:       clock,
	}, nil
}

// Result describes a committed batch.
type Result struct {
	Prefix   string `json:"prefix"`
	IngestID string `json:"ingest_id"`
	BatchID  string `json:"batch_id"`
	Count    int    `json:"count"`
	Enriched bool   `json:"enriched"`
}

// Run executes one ingestion. It fails with common.ErrEmptyResult when the
// directory yields nothing. A limit of zero or less never reaches the
// provider.
func (i *Ingestor) Run(ctx context.Context, query string, limit int) (*Result, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit %d", common.ErrEmptyResult, limit)
	}

	if err := i.lake.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	found, err := i.directory.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("directory %s: %w", i.directory.Name(), err)
	}
	companies := normalizeCompanies(found)
	if len(companies) == 0 {
		return nil, fmt.Errorf("%w: %s returned no companies for %q", common.ErrEmptyResult, i.directory.Name(), query)
	}
	logger.Info("[Ingest] Directory search done", "source", i.directory.Name(), "query", query, "companies", len(companies))

	label := storage.LabelCompanies
	if i.people != nil {
		label = storage.LabelEnriched
		if err := i.enrich(ctx, companies); err != nil {
			return nil, err
		}
	}

	fetchedAt := i.now().UTC().Truncate(time.Millisecond)
	meta := common.Sidecar{
		Source:        label,
		IngestID:      util.NewIngestID(),
		BatchID:       util.NewBatchID(),
		SchemaVersion: common.SchemaVersion,
		Count:         len(companies),
		Query:         query,
	}

	prefix, err := i.commit(ctx, label, fetchedAt, common.Payload{Companies: companies}, meta)
	if err != nil {
		return nil, err
	}
	metrics.Default().IngestedCompanies.WithLabelValues(label).Add(float64(len(companies)))
	logger.Info("[Ingest] Batch committed", "prefix", prefix, "count", len(companies), "ingest_id", meta.IngestID)

	return &Result{
		Prefix:   prefix,
		IngestID: meta.IngestID,
		BatchID:  meta.BatchID,
		Count:    len(companies),
		Enriched: i.people != nil,
	}, nil
}

// maxPrefixAttempts bounds how often commit moves to the next millisecond
// when another run already claimed the batch prefix.
const maxPrefixAttempts = 16

// commit claims a fresh batch prefix by creating the payload, then writes the
// sidecar last. A committed batch is never overwritten. If the sidecar cannot
// be written the payload is removed again.
func (i *Ingestor) commit(ctx context.Context, label string, fetchedAt time.Time, payload common.Payload, meta common.Sidecar) (string, error) {
	var prefix, payloadKey string
	for attempt := 0; ; attempt++ {
		prefix = storage.BatchPrefix(label, fetchedAt)
		payloadKey = prefix + "/" + storage.PayloadFile
		err := i.lake.CreateJSON(ctx, payloadKey, payload)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrObjectExists) || attempt+1 >= maxPrefixAttempts {
			return "", fmt.Errorf("write payload: %w", err)
		}
		logger.Debug("[Ingest] Batch prefix taken, moving on", "prefix", prefix)
		fetchedAt = fetchedAt.Add(time.Millisecond)
	}

	meta.FetchedAt = fetchedAt
	if err := i.lake.WriteJSON(ctx, prefix+"/"+storage.SidecarFile, meta); err != nil {
		if delErr := i.lake.Delete(context.WithoutCancel(ctx), payloadKey); delErr != nil {
			logger.Error("[Ingest] Failed to remove uncommitted payload", "key", payloadKey, "err", delErr)
		}
		return "", fmt.Errorf("write sidecar: %w", err)
	}
	return prefix, nil
}

// enrich attaches people to every company in place. Results are stored by
// index so the directory order is kept.
func (i *Ingestor) enrich(ctx context.Context, companies []common.Company) error {
	results := make([][]common.Person, len(companies))

	lookup := func(idx int) {
		people, err := i.people.FindByCompanyDomain(ctx, companies[idx].Domain)
		if err != nil {
			logger.Warn("[Ingest] Enrichment failed", "domain", companies[idx].Domain, "err", err)
			people = nil
		}
		results[idx] = people
	}

	if i.workers <= 1 || len(companies) == 1 {
		for idx := range companies {
			if ctx.Err() != nil {
				break
			}
			lookup(idx)
		}
	} else {
		pool, err := ants.NewPool(min(i.workers, len(companies)))
		if err != nil {
			return fmt.Errorf("create enrichment pool: %w", err)
		}
		defer pool.Release()

		var wg sync.WaitGroup
		for idx := range companies {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				lookup(idx)
			}); err != nil {
				wg.Done()
				logger.Warn("[Ingest] Failed to schedule enrichment", "domain", companies[idx].Domain, "err", err)
			}
		}
		wg.Wait()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	enriched := 0
	for idx := range companies {
		companies[idx].People = dedupePeople(results[idx])
		if len(companies[idx].People) > 0 {
			enriched++
		}
	}
	logger.Info("[Ingest] Enrichment done", "source", i.people.Name(), "companies", len(companies), "with_people", enriched)
	return nil
}

// normalizeCompanies lowercases domains and drops companies without one.
func normalizeCompanies(in []common.Company) []common.Company {
	out := make([]common.Company, 0, len(in))
	for _, c := range in {
		c.Domain = util.NormalizeDomain(c.Domain)
		if c.Domain == "" {
			logger.Debug("[Ingest] Dropping company without domain", "id", c.ID, "name", c.Name)
			continue
		}
		c.Name = util.SanitizePostgresText(c.Name)
		out = append(out, c)
	}
	return out
}

// dedupePeople merges people sharing an id and normalises their emails.
func dedupePeople(in []common.Person) []common.Person {
	if len(in) == 0 {
		return nil
	}
	index := make(map[string]int, len(in))
	out := make([]common.Person, 0, len(in))
	for _, p := range in {
		emails := make([]string, 0, len(p.Emails))
		for _, e := range p.Emails {
			if e = util.NormalizeEmail(e); e != "" {
				emails = append(emails, e)
			}
		}
		p.Emails = emails
		if at, ok := index[p.ID]; ok {
			out[at].Emails = mergeStrings(out[at].Emails, p.Emails)
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			a = append(a, s)
		}
	}
	return a
}
