package util

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// pointNamespace seeds the name-based UUIDs of vector points. Changing it
// would orphan every stored point.
var pointNamespace = uuid.MustParse("8f1c3ffc-9b83-4a2e-93a1-0a5d9a9e3b2b")

var reNanoid = regexp.MustCompile(`^[A-Za-z0-9_-]{21}$`)

// NewBatchID returns a time-ordered UUID identifying one ETL run.
func NewBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewIngestID returns a short random identifier for one ingestion.
func NewIngestID() string {
	id, err := gonanoid.New()
	if err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")[:21]
	}
	return id
}

// IsNanoid reports whether s has the shape of a default nanoid.
func IsNanoid(s string) bool {
	return reNanoid.MatchString(s)
}

// PointID derives the vector point id for an entity. The same type and
// external id always produce the same UUID.
func PointID(entityType, extID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(entityType+":"+extID)).String()
}
