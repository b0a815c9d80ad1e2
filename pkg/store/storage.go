package store

import (
	"context"

	"github.com/OFFIS-RIT/atlas/pkg/common"
)

// DefaultCollection is the vector collection holding companies and people.
const DefaultCollection = "atlas_entities"

// UpsertStats counts the distinct entities written by one graph upsert.
type UpsertStats struct {
	Companies int `json:"companies"`
	People    int `json:"people"`
	Emails    int `json:"emails"`
}

// GraphCounts is the size of the graph.
type GraphCounts struct {
	Companies int `json:"companies"`
	People    int `json:"people"`
	Emails    int `json:"emails"`
	WorksAt   int `json:"works_at"`
	HasEmail  int `json:"has_email"`
}

// Hop is one relationship leaving a node together with the node at its
// other end.
type Hop struct {
	Edge common.Edge
	Node common.Node
}

// GraphWriter projects batches into the graph.
type GraphWriter interface {
	// UpsertBatch merges all companies, people and emails in one
	// transaction. Either the whole batch is applied or nothing is.
	UpsertBatch(ctx context.Context, batchID string, companies []common.Company) (UpsertStats, error)
}

// GraphReader answers the lookups of the query service. Lookups of a
// single entity return nil without error when it does not exist.
type GraphReader interface {
	CompanyByDomain(ctx context.Context, domain string) (*common.CompanyView, error)
	PeopleByName(ctx context.Context, q string) ([]common.PersonView, error)
	CompaniesByIndustry(ctx context.Context, industry string) ([]common.CompanyCount, error)
	CompaniesByLocation(ctx context.Context, location string) ([]common.CompanyCount, error)
	PeopleByDepartment(ctx context.Context, department string) ([]common.PersonCount, error)
	IndustryAnalytics(ctx context.Context, sampleSize int) ([]common.IndustryStat, error)

	// ResolveNode finds a node by company domain, person id or email
	// address, in that order.
	ResolveNode(ctx context.Context, id string) (*common.Node, error)
	// Adjacent lists every relationship touching node, in a stable order.
	Adjacent(ctx context.Context, node common.Node) ([]Hop, error)

	Counts(ctx context.Context) (GraphCounts, error)
}

type GraphStore interface {
	GraphWriter
	GraphReader
}

// VectorStore keeps embeddings in named collections with cosine distance.
type VectorStore interface {
	// EnsureCollection creates the collection or checks that its dimension
	// equals dim. A mismatch is common.ErrDimensionMismatch.
	EnsureCollection(ctx context.Context, name string, dim int) error
	// Dimension is 0 when the collection does not exist yet.
	Dimension(ctx context.Context, name string) (int, error)
	// Upsert writes all points atomically.
	Upsert(ctx context.Context, name string, points []common.Point) error
	// Search returns the k nearest points, optionally restricted to payload
	// types. A missing collection yields no hits.
	Search(ctx context.Context, name string, vector []float32, k int, types []string) ([]common.ScoredPoint, error)
	Count(ctx context.Context, name string) (int, error)
}
