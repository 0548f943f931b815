package model

// SearchSource identifies which path answered a search
type SearchSource string

const (
	// SourceStore is the authoritative replicated store (primary)
	SourceStore SearchSource = "STORE"
	// SourceMirror is the in-process mirror
	SourceMirror SearchSource = "MIRROR"
)

// SearchLimit caps the number of matches returned by either path
const SearchLimit = 10

// SearchResult is the outcome of one search path
type SearchResult struct {
	Source    SearchSource `json:"source"`
	Key       string       `json:"key"`
	Value     string       `json:"value"`
	Matches   []Record     `json:"matches"`
	Count     int          `json:"count"`
	LatencyMs int64        `json:"latency_ms"`
	LatencyUs int64        `json:"latency_us"`
}
