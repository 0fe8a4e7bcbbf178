package domain

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// DateLayout is the calendar-day layout used in configuration and exports.
const DateLayout = "2006-01-02"

// ReferenceLastInvoice makes the latest invoice date in the data the
// recency reference date.
const ReferenceLastInvoice = "last_invoice"

// Config holds the complete rfm configuration.
type Config struct {
	// Analysis settings
	AnalysisWindow WindowConfig  `json:"analysisWindow" mapstructure:"analysis_window"`
	ReferenceDate  string        `json:"referenceDate" mapstructure:"reference_date"` // "" = window end
	QuantileCount  int           `json:"quantileCount" mapstructure:"quantile_count"`
	SegmentRules   []SegmentRule `json:"segmentRules" mapstructure:"segment_rules"`
	RulesFile      string        `json:"rulesFile" mapstructure:"rules_file"`
	Partitions     int           `json:"partitions" mapstructure:"partitions"`

	Validation ValidationConfig `json:"validation" mapstructure:"validation"`
	Source     SourceConfig     `json:"source" mapstructure:"source"`
	Output     OutputConfig     `json:"output" mapstructure:"output"`

	// Collaborators
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// WindowConfig is the textual form of the analysis window.
type WindowConfig struct {
	Start string `json:"start" mapstructure:"start"`
	End   string `json:"end" mapstructure:"end"`
}

// AnalysisWindow bounds the eligible transactions, both days inclusive.
type AnalysisWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls on a day inside the window.
func (w AnalysisWindow) Contains(t time.Time) bool {
	day := TruncateDay(t)
	return !day.Before(w.Start) && !day.After(w.End)
}

// Days returns the length of the window in days.
func (w AnalysisWindow) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// TruncateDay drops the time of day, keeping the calendar date in UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidationConfig tunes the record validator.
type ValidationConfig struct {
	// MobilePattern is the canonical shape of a customer key after
	// country-code stripping.
	MobilePattern string `json:"mobilePattern" mapstructure:"mobile_pattern"`

	// DateLayouts are tried in order when parsing line dates.
	DateLayouts []string `json:"dateLayouts" mapstructure:"date_layouts"`
}

// SourceConfig describes where raw transaction lines come from.
type SourceConfig struct {
	Format    string          `json:"format" mapstructure:"format"` // xlsx, csv, sql; "" = by extension
	Paths     []string        `json:"paths" mapstructure:"paths"`
	Sheets    []string        `json:"sheets" mapstructure:"sheets"` // empty = every sheet
	Delimiter string          `json:"delimiter" mapstructure:"delimiter"`
	Encoding  string          `json:"encoding" mapstructure:"encoding"` // csv charset, "" = utf-8
	Columns   ColumnMapping   `json:"columns" mapstructure:"columns"`
	SQL       SQLSourceConfig `json:"sql" mapstructure:"sql"`
}

// ColumnMapping names the extract columns feeding each TransactionLine field.
type ColumnMapping struct {
	Mobile    string `json:"mobile" mapstructure:"mobile"`
	InvoiceNo string `json:"invoiceNo" mapstructure:"invoice_no"`
	StoreID   string `json:"storeId" mapstructure:"store_id"`
	ItemName  string `json:"itemName" mapstructure:"item_name"`
	Date      string `json:"date" mapstructure:"date"`
	Amount    string `json:"amount" mapstructure:"amount"`
}

// SQLSourceConfig reads lines from a database table.
type SQLSourceConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // mysql, postgres, sqlite
	DSN    string `json:"-" mapstructure:"dsn"`
	Query  string `json:"query" mapstructure:"query"`
}

// OutputConfig controls what a run emits.
type OutputConfig struct {
	Dir     string   `json:"dir" mapstructure:"dir"`
	Formats []string `json:"formats" mapstructure:"formats"` // xlsx, csv, json, console
	Persist bool     `json:"persist" mapstructure:"persist"`
	Publish bool     `json:"publish" mapstructure:"publish"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, console
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// MaxQuantileCount bounds quantile_count so every score is a single digit
// and the composite code stays unambiguous.
const MaxQuantileCount = 9

// CheckQuantileCount reports a configuration error unless q is in
// 2..MaxQuantileCount.
func CheckQuantileCount(q int) error {
	if q < 2 || q > MaxQuantileCount {
		return ConfigError("quantile_count must be between 2 and %d, got %d", MaxQuantileCount, q)
	}
	return nil
}

// DefaultConfig returns the configuration used when nothing overrides it.
// The analysis window has no default and must always be supplied.
func DefaultConfig() *Config {
	return &Config{
		QuantileCount: 5,
		Partitions:    4,
		Validation: ValidationConfig{
			MobilePattern: `^[7-9]\d{9}$`,
			DateLayouts: []string{
				DateLayout,
				"2006-01-02 15:04:05",
				time.RFC3339,
				"02-01-2006",
				"02/01/2006",
				"2006/01/02",
				"02-Jan-2006",
			},
		},
		Source: SourceConfig{
			Delimiter: ",",
			Columns: ColumnMapping{
				Mobile:    "c_mobile",
				InvoiceNo: "invno",
				StoreID:   "store",
				ItemName:  "itemname",
				Date:      "invdate",
				Amount:    "n_net_sales",
			},
		},
		Output: OutputConfig{
			Dir:     "./reports",
			Formats: []string{"xlsx", "console"},
			Persist: true,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./rfm.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 64,
			TTL:          24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "rfm",
		},
	}
}

var (
	sourceFormats = []string{"", "xlsx", "csv", "sql"}
	outputFormats = []string{"xlsx", "csv", "json", "console"}
)

// Window parses the configured analysis window.
func (c *Config) Window() (AnalysisWindow, error) {
	if c.AnalysisWindow.Start == "" || c.AnalysisWindow.End == "" {
		return AnalysisWindow{}, ConfigError("analysis_window start and end are required")
	}
	start, err := time.Parse(DateLayout, c.AnalysisWindow.Start)
	if err != nil {
		return AnalysisWindow{}, ConfigError("analysis_window.start %q: expected %s", c.AnalysisWindow.Start, DateLayout)
	}
	end, err := time.Parse(DateLayout, c.AnalysisWindow.End)
	if err != nil {
		return AnalysisWindow{}, ConfigError("analysis_window.end %q: expected %s", c.AnalysisWindow.End, DateLayout)
	}
	if start.After(end) {
		return AnalysisWindow{}, ConfigError("analysis_window.start %s is after end %s", c.AnalysisWindow.Start, c.AnalysisWindow.End)
	}
	return AnalysisWindow{Start: start, End: end}, nil
}

// Validate checks every setting the pipeline depends on. Segment rules are
// checked separately when the rule engine compiles them.
func (c *Config) Validate() error {
	if _, err := c.Window(); err != nil {
		return err
	}
	if err := CheckQuantileCount(c.QuantileCount); err != nil {
		return err
	}
	if c.ReferenceDate != "" && c.ReferenceDate != ReferenceLastInvoice {
		if _, err := time.Parse(DateLayout, c.ReferenceDate); err != nil {
			return ConfigError("reference_date %q: expected %s or %q", c.ReferenceDate, DateLayout, ReferenceLastInvoice)
		}
	}
	if c.Validation.MobilePattern != "" {
		if _, err := regexp.Compile(c.Validation.MobilePattern); err != nil {
			return ConfigError("validation.mobile_pattern: %v", err)
		}
	}
	if !slices.Contains(sourceFormats, strings.ToLower(c.Source.Format)) {
		return ConfigError("source.format %q is not one of xlsx, csv, sql", c.Source.Format)
	}
	for _, f := range c.Output.Formats {
		if !slices.Contains(outputFormats, strings.ToLower(f)) {
			return ConfigError("output.formats: unknown format %q", f)
		}
	}
	return nil
}
