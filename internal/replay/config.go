package replay

import (
	"encoding/json"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/indicator"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"gopkg.in/yaml.v2"
)

// StoreBackend names a snapshot store implementation a replay can run
// against.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreDuckDB StoreBackend = "duckdb"
)

// Config describes one replay run: which playbook, which bar data, which
// symbols, and where the results go.
type Config struct {
	PlaybookPath string                     `yaml:"playbook" json:"playbook" jsonschema:"title=Playbook,description=Path to the playbook document,required"`
	DataPath     string                     `yaml:"data" json:"data" jsonschema:"title=Data,description=Path to the bar data file (.parquet or .csv),required"`
	Symbols      []string                   `yaml:"symbols" json:"symbols" jsonschema:"title=Symbols,description=Symbols to activate the playbook for,required"`
	Timeframe    types.Timeframe            `yaml:"timeframe" json:"timeframe" jsonschema:"title=Timeframe,description=Timeframe of the bars in the data file,required"`
	StartTime    optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start of the replayed period"`
	EndTime      optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the replayed period"`
	Store        StoreBackend               `yaml:"store" json:"store" jsonschema:"title=Store,description=Snapshot store backend"`
	Output       string                     `yaml:"output" json:"output" jsonschema:"title=Output,description=Directory for stats and journal output"`
	HistoryLimit int                        `yaml:"history_limit" json:"history_limit" jsonschema:"title=History Limit,description=Bars of indicator history kept per timeframe,minimum=0"`
}

// EmptyConfig returns a Config with default values.
func EmptyConfig() Config {
	return Config{
		StartTime:    optional.None[time.Time](),
		EndTime:      optional.None[time.Time](),
		Store:        StoreMemory,
		Output:       "results",
		HistoryLimit: indicator.DefaultHistoryLimit,
	}
}

// UnmarshalYAML maps optional document fields onto Option values.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		PlaybookPath string          `yaml:"playbook"`
		DataPath     string          `yaml:"data"`
		Symbols      []string        `yaml:"symbols"`
		Timeframe    types.Timeframe `yaml:"timeframe"`
		StartTime    *time.Time      `yaml:"start_time"`
		EndTime      *time.Time      `yaml:"end_time"`
		Store        StoreBackend    `yaml:"store"`
		Output       string          `yaml:"output"`
		HistoryLimit int             `yaml:"history_limit"`
	}

	var doc plain
	if err := unmarshal(&doc); err != nil {
		return err
	}

	c.PlaybookPath = doc.PlaybookPath
	c.DataPath = doc.DataPath
	c.Symbols = doc.Symbols
	c.Timeframe = doc.Timeframe
	c.Store = doc.Store
	c.Output = doc.Output
	c.HistoryLimit = doc.HistoryLimit

	if doc.StartTime != nil {
		c.StartTime = optional.Some(*doc.StartTime)
	} else {
		c.StartTime = optional.None[time.Time]()
	}

	if doc.EndTime != nil {
		c.EndTime = optional.Some(*doc.EndTime)
	} else {
		c.EndTime = optional.None[time.Time]()
	}

	return nil
}

// ParseConfig parses a replay config document, fills defaults and
// validates it.
func ParseConfig(raw []byte) (Config, error) {
	config := EmptyConfig()

	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse replay config", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// LoadConfigFile reads and parses a replay config document from disk.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read replay config %s", path)
	}

	return ParseConfig(raw)
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		c.Store = StoreMemory
	}

	if c.Output == "" {
		c.Output = "results"
	}

	if c.HistoryLimit <= 0 {
		c.HistoryLimit = indicator.DefaultHistoryLimit
	}
}

// Validate checks the config for missing or inconsistent fields.
func (c *Config) Validate() error {
	if c.PlaybookPath == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "playbook path is required")
	}

	if c.DataPath == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "data path is required")
	}

	if len(c.Symbols) == 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "at least one symbol is required")
	}

	if !c.Timeframe.IsValid() {
		return errors.Newf(errors.ErrCodeInvalidTimeframe, "unknown timeframe %q", string(c.Timeframe))
	}

	switch c.Store {
	case StoreMemory, StoreDuckDB:
	default:
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown store backend %q: want memory or duckdb", string(c.Store))
	}

	return nil
}

// GenerateSchema generates a JSON schema for the replay config document.
func (c *Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t.String() {
			case "optional.Option[time.Time]":
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			case "types.Timeframe":
				return timeframeSchema()
			case "replay.StoreBackend":
				return &jsonschema.Schema{
					Type: "string",
					Enum: []any{string(StoreMemory), string(StoreDuckDB)},
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "replay-config"
	schema.Description = "Replay run configuration"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates the JSON schema as an indented string.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

func timeframeSchema() *jsonschema.Schema {
	timeframes := types.AllTimeframes()

	values := make([]any, 0, len(timeframes))
	for _, tf := range timeframes {
		values = append(values, string(tf))
	}

	return &jsonschema.Schema{
		Type: "string",
		Enum: values,
	}
}
