package queue

import (
	"strings"
)

// Breakout routes handlers onto shared, per-handler or per-site channels.
// Specs have the form group:handler[:site]; the most specific listed spec
// wins, and a handler with no listed spec uses its group's channel.
type Breakout struct {
	base  string
	specs map[string]bool
}

// NewBreakout creates a router under base, for example /queue/federation/.
func NewBreakout(base string, specs []string) *Breakout {
	b := &Breakout{base: base, specs: make(map[string]bool, len(specs))}
	for _, s := range specs {
		if s = strings.TrimSpace(s); s != "" {
			b.specs[s] = true
		}
	}
	return b
}

// Destination computes the channel for handler of group on site.
func (b *Breakout) Destination(group, handler, site string) string {
	for _, spec := range []string{group + ":" + handler + ":" + site, group + ":" + handler} {
		if b.specs[spec] {
			return b.base + strings.ReplaceAll(spec, ":", "/")
		}
	}
	return b.base + group
}
