package types

import (
	"context"
	"time"
)

// Record tracks one processing attempt of a source item under a
// specific extraction profile. `(ItemKey, Profile)` is unique among
// live (non-superseded) records; forced reprocessing supersedes the
// old record and creates a new one with a higher attempt number.
type Record struct {
	ID              int64
	ItemKey         string
	SourceID        string
	Profile         string
	ReceivedAt      time.Time
	Stage           Stage
	Attempt         int
	Superseded      bool
	RawRef          string
	ResultRef       string
	DestinationRefs []string
	CostUnits       int64
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Event is one immutable entry in the per-record processing log.
type Event struct {
	ID        int64
	RecordID  int64
	Timestamp time.Time
	Kind      string
	Detail    string
}

// Candidate is a discovered source item that has not been examined yet.
type Candidate struct {
	ItemKey    string
	ReceivedAt time.Time
}

// RawContent is the downloaded form of one item, plus the analysis
// text derived from it.
type RawContent struct {
	ItemKey    string
	Ref        string
	Subject    string
	Sender     string
	Link       string
	ReceivedAt time.Time
	Body       []byte
	Text       string
	Links      []string
}

// Story is one discrete story extracted from a newsletter.
type Story struct {
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	Summary      string   `json:"summary"`
	KeyFacts     []string `json:"key_facts"`
	Companies    []string `json:"companies,omitempty"`
	Implications string   `json:"implications,omitempty"`
	Confidence   string   `json:"confidence,omitempty"`
	SourceURL    string   `json:"source_url,omitempty"`
}

// TrendSignal is a cross-story trend observation.
type TrendSignal struct {
	Trend      string `json:"trend"`
	Trajectory string `json:"trajectory"`
	Evidence   string `json:"evidence,omitempty"`
}

// ExtractionResult is the structured output of the second extraction pass.
type ExtractionResult struct {
	ExecutiveSummary string        `json:"executive_summary"`
	Stories          []Story       `json:"stories"`
	TrendSignals     []TrendSignal `json:"trend_signals,omitempty"`
}

// Extraction bundles a structured result with its artifact location
// and the resource cost of producing it.
type Extraction struct {
	Result    *ExtractionResult
	Reasoning string
	ResultRef string
	Model     string
	CostUnits int64
}

// Publication is the shape handed to destinations: the extraction
// plus enough item context to render a page, embed, or post.
type Publication struct {
	ItemKey    string
	SourceID   string
	SourceName string
	Subject    string
	Link       string
	ReceivedAt time.Time
	Result     *ExtractionResult
	Model      string
	CostUnits  int64
}

// Profile is a named extraction configuration.
type Profile struct {
	Name            string
	Provider        string
	Model           string
	Host            string
	APIKey          string
	MaxChars        int
	AnalysisPrompt  string
	StructurePrompt string
	FocusAreas      []string
}

// DestinationSet is a named group of destinations published together.
type DestinationSet struct {
	Name         string
	Destinations []string
}

// SourceSpec is the per-source configuration the orchestrator runs from.
type SourceSpec struct {
	ID             string
	Name           string
	Address        string
	Enabled        bool
	Profile        string
	DestinationSet string
	MaxItems       int
}

// RunOptions control a single pipeline invocation.
type RunOptions struct {
	MaxItems int
	DryRun   bool
	Force    bool
}

// Summary is the outcome of one pipeline run. Planned counts items a
// dry run would have processed; it is always zero on a real run.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	Planned   int
	CostUnits int64
}

func (s *Summary) Add(other Summary) {
	s.Processed += other.Processed
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Planned += other.Planned
	s.CostUnits += other.CostUnits
}

// Stats is the read-only aggregate view of the state store.
type Stats struct {
	ByStage        map[Stage]int
	TotalRecords   int
	TotalCostUnits int64
}

// SourceAdapter discovers candidate items at an external source.
// MarkConsumed is best-effort; the orchestrator logs and ignores its
// failures.
type SourceAdapter interface {
	Name() string
	Discover(ctx context.Context, address string, notBefore *time.Time, max int) ([]Candidate, error)
	MarkConsumed(ctx context.Context, itemKey string) error
}

// ContentFetcher downloads raw content for an item. Load rehydrates
// previously fetched content from its artifact reference so a resumed
// record never refetches from the source.
type ContentFetcher interface {
	Fetch(ctx context.Context, itemKey string) (*RawContent, error)
	Load(ctx context.Context, ref string) (*RawContent, error)
}

// ExtractionEngine turns raw content into a structured result under a
// profile. LoadResult rehydrates a persisted result for resumed records.
type ExtractionEngine interface {
	Extract(ctx context.Context, raw *RawContent, profile Profile) (*Extraction, error)
	LoadResult(ctx context.Context, ref string) (*Extraction, error)
}

// Publisher writes a publication to every destination in a set and
// returns the remote identifiers it created.
type Publisher interface {
	Publish(ctx context.Context, pub *Publication, set DestinationSet) ([]string, error)
}
