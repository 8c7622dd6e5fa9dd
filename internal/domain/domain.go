package domain

import "time"

// RunState tracks one trading day's pipeline execution.
type RunState string

const (
	RunNotStarted RunState = "not-started"
	RunRunning    RunState = "running"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
	RunCachedSkip RunState = "cached-skip"
)

const (
	SourceMarketSnapshot = "market_snapshot"
	SourceHKMarket       = "hk_market"
	SourceThemeMetrics   = "theme_metrics"
	SourceEdgar          = "edgar_fundamentals"
	SourcePutCall        = "cboe_put_call"
	SourcePutCallStale   = "cboe_put_call_fallback"
	SourceAAII           = "aaii_sentiment"
	SourceAAIIStale      = "aaii_sentiment_fallback"
	SourceBTC            = "btc_block"
	SourceEvents         = "macro_events"
	SourceEarnings       = "earnings_calendar"
	SourceArxiv          = "arxiv_papers"
	SourceLLMNews        = "llm_news"
)

// FetchStatus records the outcome of one acquisition step. Entries are
// append-only within a run and never mutated after creation.
type FetchStatus struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// QuoteSnapshot is the immutable result of one successful provider attempt.
// Source names the exact provider variant that produced it.
type QuoteSnapshot struct {
	Day       string  `json:"day"`
	Close     float64 `json:"close"`
	ChangePct float64 `json:"change_pct"`
	Source    string  `json:"source"`
}

// FundamentalsRecord holds trailing-twelve-month and latest-instant figures
// for one symbol. Fields are independently nullable and independently sourced.
type FundamentalsRecord struct {
	RevenueTTM    *float64 `json:"revenue_ttm"`
	NetIncomeTTM  *float64 `json:"net_income_ttm"`
	SharesDiluted *float64 `json:"shares_diluted_latest"`
	EquityLatest  *float64 `json:"equity_latest"`
	Source        string   `json:"source,omitempty"`
}

// SymbolValuation is one row of a theme aggregate.
type SymbolValuation struct {
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price"`
	ChangePct *float64 `json:"change_pct"`
	PE        *float64 `json:"pe"`
	PS        *float64 `json:"ps"`
	PB        *float64 `json:"pb"`
	MarketCap *float64 `json:"market_cap"`
	Source    string   `json:"source,omitempty"`
}

// ThemeMetrics aggregates valuations over a named basket of symbols.
type ThemeMetrics struct {
	Theme          string            `json:"theme"`
	AvgChangePct   *float64          `json:"avg_change_pct"`
	AvgPE          *float64          `json:"avg_pe"`
	AvgPS          *float64          `json:"avg_ps"`
	AvgPB          *float64          `json:"avg_pb"`
	TotalMarketCap *float64          `json:"total_market_cap"`
	Symbols        []SymbolValuation `json:"symbols"`
}

type SectorPerformance struct {
	Performance float64 `json:"performance"`
	Source      string  `json:"source"`
}

// PutCallReading is one day of CBOE put/call ratios.
type PutCallReading struct {
	Ratios       map[string]float64 `json:"ratios"`
	AsOfExchange string             `json:"as_of_exchange_tz"`
	AsOfUTC      time.Time          `json:"as_of_utc"`
	Source       string             `json:"source"`
}

// SurveyReading is one week of the AAII investor survey.
type SurveyReading struct {
	BullishPct float64 `json:"bullish_pct"`
	NeutralPct float64 `json:"neutral_pct"`
	BearishPct float64 `json:"bearish_pct"`
	Spread     float64 `json:"bull_bear_spread"`
	Week       string  `json:"week"`
	Source     string  `json:"source"`
}

// SentimentComponent is one normalized contrarian signal. Value is the
// compressed signal in (-1, 1); Score maps it onto the 0-100 display scale.
type SentimentComponent struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Score float64 `json:"score"`
}

// SentimentBlock carries the composite plus its inputs. Composite is nil,
// not 50, when no signal was available.
type SentimentBlock struct {
	Composite  *float64             `json:"composite"`
	Components []SentimentComponent `json:"components"`
	PutCall    *PutCallReading      `json:"put_call,omitempty"`
	Survey     *SurveyReading       `json:"aaii,omitempty"`
}

// MarketBlock is the market half of the daily document.
type MarketBlock struct {
	Date      string                       `json:"date"`
	Indexes   map[string]QuoteSnapshot     `json:"indexes"`
	Sectors   map[string]SectorPerformance `json:"sectors"`
	Themes    map[string]ThemeMetrics      `json:"themes"`
	Simulated bool                         `json:"simulated,omitempty"`
}

// CryptoBlock is the BTC section: spot, derivatives posture and ETF flow.
type CryptoBlock struct {
	SpotUSD          *float64          `json:"spot_usd"`
	FundingRate      *float64          `json:"funding_rate"`
	Basis            *float64          `json:"basis"`
	ETFNetInflowMUSD *float64          `json:"etf_net_inflow_musd"`
	Sources          map[string]string `json:"sources,omitempty"`
	Simulated        bool              `json:"simulated,omitempty"`
}

// MarketDocument is the merged artifact consumed by downstream scoring.
type MarketDocument struct {
	Market    MarketBlock    `json:"market"`
	BTC       CryptoBlock    `json:"btc"`
	Sentiment SentimentBlock `json:"sentiment"`
}

type Event struct {
	Date   string `json:"date"`
	Title  string `json:"title"`
	Impact string `json:"impact"`
	Source string `json:"source"`
	Detail string `json:"detail,omitempty"`
}

type NewsItem struct {
	Title     string `json:"title"`
	URL       string `json:"url,omitempty"`
	Source    string `json:"source"`
	Published string `json:"published,omitempty"`
}

// EventsDocument is the events/news artifact.
type EventsDocument struct {
	Events    []Event    `json:"events"`
	AIUpdates []NewsItem `json:"ai_updates"`
	Brief     string     `json:"brief,omitempty"`
}

// RunStatusReport is the authoritative record of a day's acquisition outcome.
// OK is the AND of the required sources only.
type RunStatusReport struct {
	Date    string        `json:"date"`
	Sources []FetchStatus `json:"sources"`
	OK      bool          `json:"ok"`
}

func ImpactRank(impact string) int {
	switch impact {
	case "high":
		return 0
	case "medium":
		return 1
	default:
		return 2
	}
}

func Float(v float64) *float64 { return &v }
