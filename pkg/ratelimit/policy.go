package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/common"
)

// Policy allows Tokens calls per Window.
type Policy struct {
	Tokens int
	Window time.Duration
}

func (p Policy) String() string {
	return fmt.Sprintf("%d/%s", p.Tokens, p.Window)
}

// ParsePolicy reads "<tokens>/<window>", e.g. "10/1s" or "600/1m". A bare
// unit such as "5/s" means a window of one unit.
func ParsePolicy(s string) (Policy, error) {
	tokens, window, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Policy{}, fmt.Errorf("%w: rate limit %q: expected <tokens>/<window>", common.ErrConfiguration, s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(tokens))
	if err != nil || n <= 0 {
		return Policy{}, fmt.Errorf("%w: rate limit %q: invalid token count", common.ErrConfiguration, s)
	}
	window = strings.TrimSpace(window)
	if window != "" && (window[0] < '0' || window[0] > '9') {
		window = "1" + window
	}
	d, err := time.ParseDuration(window)
	if err != nil || d <= 0 {
		return Policy{}, fmt.Errorf("%w: rate limit %q: invalid window", common.ErrConfiguration, s)
	}
	return Policy{Tokens: n, Window: d}, nil
}

// PolicyFromEnv reads RATE_LIMIT_<PROVIDER>. Unset or unparsable values
// fall back to def.
func PolicyFromEnv(provider string, def Policy) Policy {
	raw := util.GetEnvString("RATE_LIMIT_"+strings.ToUpper(provider), "")
	if raw == "" {
		return def
	}
	p, err := ParsePolicy(raw)
	if err != nil {
		return def
	}
	return p
}
