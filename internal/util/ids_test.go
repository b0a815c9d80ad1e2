package util

import (
	"testing"

	"github.com/google/uuid"
)

func TestIsNanoid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"Valid21Chars", "sGvgBXbBcVCjBIKCLS2Os", true},
		{"TooShort", "abc123", false},
		{"TooLong", "sGvgBXbBcVCjBIKCLS2OsX", false},
		{"WithSpace", "sGvgBXbBcVCjBIKCL 2Os", false},
		{"Empty", "", false},
		{"MixedValid", "Aa0_-Bb1_-Cc2_-Dd3_-E", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNanoid(tt.in); got != tt.want {
				t.Fatalf("IsNanoid(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewIngestID(t *testing.T) {
	a, b := NewIngestID(), NewIngestID()
	if !IsNanoid(a) {
		t.Fatalf("expected nanoid, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestNewBatchID_IsV7(t *testing.T) {
	id, err := uuid.Parse(NewBatchID())
	if err != nil {
		t.Fatalf("parse batch id: %v", err)
	}
	if id.Version() != 7 {
		t.Fatalf("expected version 7, got %d", id.Version())
	}
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("company", "places:abc")
	b := PointID("company", "places:abc")
	if a != b {
		t.Fatalf("expected stable id, got %q and %q", a, b)
	}
	if PointID("person", "places:abc") == a {
		t.Fatal("expected type to change the id")
	}
	id, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("parse point id: %v", err)
	}
	if id.Version() != 5 {
		t.Fatalf("expected version 5, got %d", id.Version())
	}
}
