package server

import (
	"encoding/json"

	"github.com/nainya/lexstore/pkg/history"
)

// DocRequest addresses a document, optionally one edition or slot of it
type DocRequest struct {
	Domain  string `json:"domain"`
	IDLocal string `json:"id_local"`
	Version string `json:"version,omitempty"`
	SubID   string `json:"sub_id,omitempty"`
}

// IncorporateRequest carries a receiver payload. Domain defaults to the
// edition's own domain.
type IncorporateRequest struct {
	Domain  string                   `json:"domain,omitempty"`
	Edition *history.DocumentVersion `json:"edition"`
}

// IncorporateResponse summarizes a merged edition
type IncorporateResponse struct {
	RunID     string   `json:"run_id"`
	Domain    string   `json:"domain"`
	IDLocal   string   `json:"id_local"`
	Version   string   `json:"version"`
	New       []string `json:"new"`
	Relabeled []string `json:"relabeled"`
	Changed   []string `json:"changed"`
	Obsoleted []string `json:"obsoleted"`
}

// UnavailableRequest records a known edition without content
type UnavailableRequest struct {
	Domain       string `json:"domain"`
	IDLocal      string `json:"id_local"`
	Version      string `json:"version"`
	DateDocument string `json:"date_document"` // YYYY-MM-DD
	After        string `json:"after,omitempty"`
}

// InForceMessage carries the tri-state flag; null means unset
type InForceMessage struct {
	Domain  string `json:"domain,omitempty"`
	IDLocal string `json:"id_local,omitempty"`
	InForce *bool  `json:"in_force"`
	Updated int    `json:"updated,omitempty"`
}

// PurgeResponse tells whether there was anything to delete
type PurgeResponse struct {
	Existed bool `json:"existed"`
}

// StatusResponse is a bare acknowledgement
type StatusResponse struct {
	Status string `json:"status"`
}

// ResolveResponse carries a materialized edition
type ResolveResponse struct {
	Edition *history.DocumentVersion `json:"edition"`
}

// HistoryResponse carries a document history
type HistoryResponse struct {
	Alias    string          `json:"alias,omitempty"`
	Document json.RawMessage `json:"document"`
}

// ChangesResponse lists the changes of one edition
type ChangesResponse struct {
	Changes []history.Change `json:"changes"`
}

// VersionsResponse lists the editions exposing a slot
type VersionsResponse struct {
	Versions []history.VersionAvailability `json:"versions"`
}
