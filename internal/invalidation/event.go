// Package invalidation defines the COG update events that evict cached
// TiTiler /info responses.
package invalidation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	CogURL  string    `json:"cog_url"`
	TS      time.Time `json:"ts"`
	// Seq orders events for one COG; zero disables dedupe.
	Seq    uint64 `json:"seq,omitempty"`
	Source string `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case "update", "delete":
	default:
		return errors.New("op must be update|delete")
	}
	cog := strings.TrimSpace(e.CogURL)
	if cog == "" {
		return errors.New("cog_url is required")
	}
	u, err := url.Parse(cog)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("cog_url must be an absolute url: %q", cog)
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}
