package store

// PendingDiscovery is a repository found by forge search, waiting for intake.
type PendingDiscovery struct {
	ID           string `json:"id"`
	Seq          int64  `json:"seq"`
	Owner        string `json:"owner"`
	Repo         string `json:"repo"`
	NaturalKey   string `json:"natural_key"`
	Processed    bool   `json:"processed"`
	ClaimedUntil int64  `json:"claimed_until"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// PendingEnrichment is a catalog record waiting for AI summary and tags.
type PendingEnrichment struct {
	ID             string `json:"id"`
	Seq            int64  `json:"seq"`
	ServerID       string `json:"server_id"`
	ServerName     string `json:"server_name"`
	PreparedReadme string `json:"prepared_readme"`
	Processed      bool   `json:"processed"`
	ClaimedUntil   int64  `json:"claimed_until"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// SecurityRank grades a catalog record. Scanning is done elsewhere; the
// pipeline only ever writes RankUnrated.
type SecurityRank string

const (
	RankUnrated  SecurityRank = "UNRATED"
	RankLow      SecurityRank = "LOW"
	RankModerate SecurityRank = "MODERATE"
	RankHigh     SecurityRank = "HIGH"
	RankCritical SecurityRank = "CRITICAL"
)

// Valid reports whether r is one of the known ranks.
func (r SecurityRank) Valid() bool {
	switch r {
	case RankUnrated, RankLow, RankModerate, RankHigh, RankCritical:
		return true
	}
	return false
}

// LaunchSTDIO is the default launch type of a catalog record.
const LaunchSTDIO = "STDIO"

// ServerDetail is the launch configuration and descriptive text of a record.
type ServerDetail struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env,omitempty"`
}

// Server is a catalog record (one MCP server).
type Server struct {
	ID           string       `json:"id"`
	Seq          int64        `json:"seq"`
	LaunchType   string       `json:"launch_type"`
	URL          string       `json:"url"`
	StarCount    int64        `json:"star_count"`
	ViewCount    int64        `json:"view_count"`
	IsOfficial   bool         `json:"is_official"`
	IsScanned    bool         `json:"is_scanned"`
	SecurityRank SecurityRank `json:"security_rank"`
	Tags         []string     `json:"tags"`
	Detail       ServerDetail `json:"detail"`
	CreatedAt    int64        `json:"created_at"`
	UpdatedAt    int64        `json:"updated_at"`
}

// Tag is a distinct tag string seen on any catalog record.
type Tag struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	Tag       string `json:"tag"`
	CreatedAt int64  `json:"created_at"`
}

// ListFilter narrows ListServers. Zero values mean "no filter".
type ListFilter struct {
	MinStars int64
	Tag      string
	Query    string // substring of name or description
	Limit    int
	Offset   int
}

// Stats holds per-collection counters.
type Stats struct {
	PendingDiscovery   int `json:"pending_discovery"`
	ProcessedDiscovery int `json:"processed_discovery"`
	PendingEnrichment  int `json:"pending_enrichment"`
	Servers            int `json:"servers"`
	Tags               int `json:"tags"`
}
