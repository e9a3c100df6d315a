// Package types contains shared type definitions for indexer packages.
package types

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SearchMode selects URL shape and result grouping for a batch of search tokens.
type SearchMode string

const (
	ModeCache   SearchMode = "Cache"
	ModeSeason  SearchMode = "Season"
	ModeEpisode SearchMode = "Episode"
	ModePropers SearchMode = "Propers"
)

// AllModes lists the modes in their canonical order.
var AllModes = []SearchMode{ModeCache, ModeSeason, ModeEpisode, ModePropers}

// ParseMode returns the SearchMode matching s, case-insensitively.
func ParseMode(s string) (SearchMode, error) {
	for _, m := range AllModes {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown search mode %q", s)
}

// Valid reports whether m is one of the known modes.
func (m SearchMode) Valid() bool {
	for _, known := range AllModes {
		if m == known {
			return true
		}
	}
	return false
}

// ModeTokens is one entry of a SearchRequest.
type ModeTokens struct {
	Mode   SearchMode `json:"mode"`
	Tokens []string   `json:"tokens"`
}

// SearchRequest maps modes to ordered search tokens. Modes are processed in
// insertion order; adding tokens to an existing mode appends to that entry.
type SearchRequest []ModeTokens

// Add appends tokens under mode, keeping the first insertion position of the mode.
func (r SearchRequest) Add(mode SearchMode, tokens ...string) SearchRequest {
	for i := range r {
		if r[i].Mode == mode {
			r[i].Tokens = append(r[i].Tokens, tokens...)
			return r
		}
	}
	return append(r, ModeTokens{Mode: mode, Tokens: append([]string(nil), tokens...)})
}

// Modes returns the modes of the request in processing order.
func (r SearchRequest) Modes() []SearchMode {
	modes := make([]SearchMode, 0, len(r))
	for _, mt := range r {
		modes = append(modes, mt.Mode)
	}
	return modes
}

// SizeUnknown marks a record whose size could not be determined.
const SizeUnknown int64 = -1

// CountUnknown marks a swarm counter the site does not publish.
const CountUnknown = -1

// TorrentRecord is one normalized candidate download.
type TorrentRecord struct {
	Title       string     `json:"title"`
	DownloadURL string     `json:"downloadUrl"`
	Seeders     int        `json:"seeders"`
	Leechers    int        `json:"leechers"`
	Size        int64      `json:"size"`
	Mode        SearchMode `json:"mode"`
	Provider    string     `json:"provider"`
}

// SizeKnown reports whether the record carries a parsed size.
func (r TorrentRecord) SizeKnown() bool {
	return r.Size >= 0
}

// ResultBatch is the ordered output of one search invocation.
type ResultBatch []TorrentRecord

// Outcome describes how a single (mode, token) step ended.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeHalted       Outcome = "halted"
	OutcomeFailed       Outcome = "failed"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeSkipped      Outcome = "skipped"
)

// SearchEvent records the result of one (mode, token) step for observability.
type SearchEvent struct {
	ID        int64         `json:"id,omitempty"`
	RunID     string        `json:"runId"`
	Provider  string        `json:"provider"`
	Mode      SearchMode    `json:"mode"`
	Token     string        `json:"token"`
	URL       string        `json:"url,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Added     int           `json:"added"`
	Elapsed   time.Duration `json:"elapsedMs"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// MarshalJSON reports Elapsed in milliseconds.
func (e SearchEvent) MarshalJSON() ([]byte, error) {
	type alias SearchEvent
	return json.Marshal(struct {
		alias
		Elapsed int64 `json:"elapsedMs"`
	}{alias: alias(e), Elapsed: e.Elapsed.Milliseconds()})
}

// ProviderInfo describes a registered provider for listings.
type ProviderInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BaseURL      string `json:"baseUrl"`
	AuthStrategy string `json:"authStrategy"`
	MinSeed      int    `json:"minSeed,omitempty"`
	MinLeech     int    `json:"minLeech,omitempty"`
	Freeleech    bool   `json:"freeleech,omitempty"`
}

// FetchOptions adjusts a single transport request.
type FetchOptions struct {
	Form    url.Values // POST the form when non-nil
	Referer string
}
