package queue

import (
	"strconv"
	"strings"
	"time"
)

// FailoverMode selects how multiple broker servers are used.
type FailoverMode string

const (
	// FailoverAuto keeps one connection to whichever server answers first,
	// trying servers in random order.
	FailoverAuto FailoverMode = "auto"
	// FailoverManual connects to every server and consumes from all of
	// them; brokers that are not clustered do not share queues.
	FailoverManual FailoverMode = "manual"
)

// Persistence decides which handlers' frames are broker-persistent.
type Persistence struct {
	All   bool
	Names map[string]bool
}

// ParsePersistence reads "true", "false" or a comma list of handler names.
func ParsePersistence(v string) Persistence {
	if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
		return Persistence{All: b}
	}
	p := Persistence{Names: make(map[string]bool)}
	for _, n := range strings.Split(v, ",") {
		if n = strings.TrimSpace(n); n != "" {
			p.Names[n] = true
		}
	}
	return p
}

// For reports whether handler's frames are persistent.
func (p Persistence) For(handler string) bool {
	return p.All || p.Names[handler]
}

// Config configures a Manager.
type Config struct {
	Servers         []string
	Failover        FailoverMode
	Base            string
	Control         string
	Breakout        []string
	Persistent      Persistence
	UseTransactions bool
	UseAcks         bool
	MaxRetries      int

	// Site is the origin recorded on tasks enqueued without one.
	Site string
	// Sites lists the tenants whose channels this daemon consumes.
	Sites []string

	ReconnectDelay time.Duration
}

// DefaultConfig returns the stock destinations and retry budget.
func DefaultConfig() Config {
	return Config{
		Failover:       FailoverAuto,
		Base:           "/queue/federation/",
		Control:        "/topic/federation/control",
		Persistent:     Persistence{All: true},
		UseAcks:        true,
		MaxRetries:     10,
		ReconnectDelay: 5 * time.Second,
	}
}
