package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/common"
)

const (
	PayloadFile = "companies.json"
	SidecarFile = "_meta.json"

	// TimestampLayout is the batch directory name. It is fixed width so it
	// sorts lexically in time order.
	TimestampLayout = "2006-01-02T15:04:05.000Z"

	LabelCompanies = "companies"
	LabelEnriched  = "enriched"
)

// ErrObjectExists is returned by CreateJSON when the key is already taken.
var ErrObjectExists = errors.New("object already exists")

// DefaultRoots are the prefixes under which batches are discovered.
var DefaultRoots = []string{"companies/raw/", "enriched/raw/", "apollo/raw/"}

// Lake is the immutable batch store. Keys are relative to the bucket.
type Lake interface {
	Bucket() string
	EnsureBucket(ctx context.Context) error
	List(ctx context.Context, prefix string) ([]string, error)
	ReadJSON(ctx context.Context, key string, v any) error
	WriteJSON(ctx context.Context, key string, v any) error
	// CreateJSON writes v only if key does not exist yet.
	CreateJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// BatchPrefix returns "<label>/raw/<timestamp>" without a trailing slash.
func BatchPrefix(label string, ts time.Time) string {
	return fmt.Sprintf("%s/raw/%s", label, ts.UTC().Format(TimestampLayout))
}

// Batch is one committed batch found in the lake.
type Batch struct {
	Prefix    string          `json:"prefix"`
	Label     string          `json:"label"`
	Timestamp time.Time       `json:"timestamp"`
	Sidecar   *common.Sidecar `json:"sidecar,omitempty"`
}

// ParseBatchPrefix splits "<label>/raw/<timestamp>" into its parts.
func ParseBatchPrefix(prefix string) (string, time.Time, error) {
	prefix = strings.Trim(prefix, "/")
	parts := strings.Split(prefix, "/")
	if len(parts) < 3 || parts[len(parts)-2] != "raw" {
		return "", time.Time{}, fmt.Errorf("%w: batch prefix %q", common.ErrInvalidInput, prefix)
	}
	stamp := parts[len(parts)-1]
	ts, err := time.Parse(TimestampLayout, stamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("%w: batch timestamp %q: %v", common.ErrInvalidInput, stamp, err)
		}
	}
	return strings.Join(parts[:len(parts)-2], "/"), ts.UTC(), nil
}

// ListBatches returns the committed batches below roots, oldest first. A
// batch counts as committed once its sidecar exists.
func ListBatches(ctx context.Context, lake Lake, roots []string) ([]Batch, error) {
	seen := make(map[string]struct{})
	var batches []Batch
	for _, root := range roots {
		keys, err := lake.List(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", root, err)
		}
		for _, key := range keys {
			if path.Base(key) != SidecarFile {
				continue
			}
			prefix := path.Dir(key)
			if _, dup := seen[prefix]; dup {
				continue
			}
			label, ts, err := ParseBatchPrefix(prefix)
			if err != nil {
				continue
			}
			seen[prefix] = struct{}{}
			batches = append(batches, Batch{Prefix: prefix, Label: label, Timestamp: ts})
		}
	}
	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].Timestamp.Equal(batches[j].Timestamp) {
			return batches[i].Prefix < batches[j].Prefix
		}
		return batches[i].Timestamp.Before(batches[j].Timestamp)
	})
	return batches, nil
}

// ReadSidecar loads the sidecar of a batch.
func ReadSidecar(ctx context.Context, lake Lake, prefix string) (*common.Sidecar, error) {
	var meta common.Sidecar
	if err := lake.ReadJSON(ctx, strings.TrimSuffix(prefix, "/")+"/"+SidecarFile, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ReadPayload loads companies.json of a batch.
func ReadPayload(ctx context.Context, lake Lake, prefix string) (*common.Payload, error) {
	var payload common.Payload
	if err := lake.ReadJSON(ctx, strings.TrimSuffix(prefix, "/")+"/"+PayloadFile, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
