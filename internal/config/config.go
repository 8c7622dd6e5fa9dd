package config

import (
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	OverrideDate    string
	Force           bool
	Strict          bool
	DisableThrottle bool

	QuoteOrder    []string
	IndexOrder    []string
	EquityOrder   []string
	DisableYahoo  bool
	YahooFallback bool
	PreferStooq   bool

	EdgarUserAgent string
	FarsideCookies string

	OutDir   string
	StateDir string

	OpenAIAPIKey string
	NewsModel    string

	Schedule string

	Themes    map[string][]string
	Feeds     []string
	MaxEvents int

	Keys      map[string]string
	KeyErrors []string
}

type fileConfig struct {
	Themes     map[string][]string `yaml:"themes"`
	Feeds      []string            `yaml:"feeds"`
	QuoteOrder struct {
		Index  []string `yaml:"index"`
		Equity []string `yaml:"equity"`
	} `yaml:"quote_order"`
	MaxEvents int `yaml:"max_events"`
}

func Load() *Config {
	cfg := &Config{
		OverrideDate:    strings.TrimSpace(os.Getenv("OVERRIDE_DATE")),
		Force:           truthy(os.Getenv("FORCE_REFRESH")),
		Strict:          truthy(os.Getenv("STRICT")),
		DisableThrottle: truthy(os.Getenv("DISABLE_THROTTLE")),
		DisableYahoo:    truthy(os.Getenv("DISABLE_YAHOO")),
		YahooFallback:   truthy(os.Getenv("YAHOO_FALLBACK")),
		PreferStooq:     truthy(os.Getenv("PREFER_STOOQ")),
		EdgarUserAgent:  strings.TrimSpace(os.Getenv("EDGAR_USER_AGENT")),
		FarsideCookies:  strings.TrimSpace(os.Getenv("FARSIDE_COOKIES")),
		Schedule:        strings.TrimSpace(os.Getenv("RUN_SCHEDULE")),
	}

	if v := strings.TrimSpace(os.Getenv("QUOTE_ORDER")); v != "" {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(strings.ToLower(name))
			if name != "" {
				cfg.QuoteOrder = append(cfg.QuoteOrder, name)
			}
		}
	}

	cfg.OutDir = strings.TrimSpace(os.Getenv("OUT_DIR"))
	if cfg.OutDir == "" {
		cfg.OutDir = "out"
	}
	cfg.StateDir = strings.TrimSpace(os.Getenv("STATE_DIR"))
	if cfg.StateDir == "" {
		cfg.StateDir = "state"
	}

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, news brief will be skipped")
	}
	cfg.NewsModel = strings.TrimSpace(os.Getenv("NEWS_MODEL"))
	if cfg.NewsModel == "" {
		cfg.NewsModel = "gpt-4o-mini"
	}

	if cfg.EdgarUserAgent == "" {
		log.Println("Warning: EDGAR_USER_AGENT not set, filings fetches may be rejected")
	}

	cfg.Themes = map[string][]string{
		"ai":           {"NVDA", "MSFT", "GOOGL", "AMD"},
		"magnificent7": {"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA"},
	}
	cfg.Feeds = []string{
		"https://openai.com/news/rss.xml",
		"https://deepmind.google/blog/rss.xml",
	}
	cfg.MaxEvents = 12

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			log.Printf("Warning: could not load config file %s: %v", path, err)
		}
	}

	keys, errs := LoadKeys()
	cfg.Keys = keys
	for _, err := range errs {
		cfg.KeyErrors = append(cfg.KeyErrors, err.Error())
		log.Printf("Warning: %v", err)
	}

	return cfg
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}
	if len(fc.Themes) > 0 {
		c.Themes = fc.Themes
	}
	if len(fc.Feeds) > 0 {
		c.Feeds = fc.Feeds
	}
	if len(fc.QuoteOrder.Index) > 0 {
		c.IndexOrder = fc.QuoteOrder.Index
	}
	if len(fc.QuoteOrder.Equity) > 0 {
		c.EquityOrder = fc.QuoteOrder.Equity
	}
	if fc.MaxEvents > 0 {
		c.MaxEvents = fc.MaxEvents
	}
	return nil
}

// Key returns the credential for a canonical provider name, empty when unset.
func (c *Config) Key(name string) string {
	if c.Keys == nil {
		return ""
	}
	return c.Keys[name]
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
