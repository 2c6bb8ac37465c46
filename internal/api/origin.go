package api

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originPolicy decides which browser origins may open a websocket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *zap.Logger
}

func newOriginPolicy(origins []string, logger *zap.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}, len(origins)), logger: logger}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			p.allowAll = true
			continue
		}
		norm, ok := normalizeOrigin(o)
		if !ok {
			logger.Warn("ignoring invalid origin", zap.String("origin", o))
			continue
		}
		p.allowed[norm] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// check is used as the upgrader's CheckOrigin. Requests without an Origin
// header come from non-browser clients and are let through.
func (p *originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.allowAll {
		return true
	}
	norm, ok := normalizeOrigin(origin)
	if ok {
		if _, allowed := p.allowed[norm]; allowed {
			return true
		}
	}
	p.logger.Info("blocked websocket origin", zap.String("origin", origin))
	return false
}
