package util

import (
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/common"
)

func TestRequireEnv_Missing(t *testing.T) {
	t.Setenv("ATLAS_TEST_REQUIRED", "")
	_, err := RequireEnv("ATLAS_TEST_REQUIRED")
	if !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRequireEnv_Present(t *testing.T) {
	t.Setenv("ATLAS_TEST_REQUIRED", " key ")
	v, err := RequireEnv("ATLAS_TEST_REQUIRED")
	if err != nil || v != "key" {
		t.Fatalf("unexpected result %q, %v", v, err)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("ATLAS_TEST_DUR", "45")
	if got := GetEnvDuration("ATLAS_TEST_DUR", time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s, got %v", got)
	}
	t.Setenv("ATLAS_TEST_DUR", "250ms")
	if got := GetEnvDuration("ATLAS_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
	t.Setenv("ATLAS_TEST_DUR", "soon")
	if got := GetEnvDuration("ATLAS_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("expected default, got %v", got)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("ATLAS_TEST_LIST", "a/, ,b/ ,")
	got := GetEnvList("ATLAS_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "a/" || got[1] != "b/" {
		t.Fatalf("unexpected list %v", got)
	}
}
