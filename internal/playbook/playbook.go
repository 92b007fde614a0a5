package playbook

import (
	"os"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SchemaV1 is the schema tag every playbook document must carry.
const SchemaV1 = "playbook-v1"

// Config is the immutable, versioned definition of a playbook: the
// indicators it needs refreshed, its variable declarations, its phase graph,
// and the risk profile its expressions can read. A Config is validated once
// at load time and never mutated afterwards; the engine shares one Config
// across every symbol it is activated for.
type Config struct {
	Schema  string `yaml:"schema" json:"schema" jsonschema:"title=Schema,description=Document schema tag,enum=playbook-v1,required" validate:"required"`
	ID      string `yaml:"id" json:"id" jsonschema:"title=ID,description=Unique identifier of the playbook,required" validate:"required"`
	Name    string `yaml:"name" json:"name" jsonschema:"title=Name,description=Human-readable playbook name"`
	Version string `yaml:"version" json:"version" jsonschema:"title=Version,description=Document revision,required" validate:"required"`
	// MinEngineVersion optionally pins the oldest engine this playbook runs on.
	MinEngineVersion optional.Option[string] `yaml:"min_engine_version" json:"min_engine_version,omitempty" jsonschema:"title=Minimum Engine Version"`

	Indicators   []IndicatorRef      `yaml:"indicators" json:"indicators" validate:"dive"`
	Variables    map[string]Variable `yaml:"variables" json:"variables"`
	Risk         RiskProfile         `yaml:"risk" json:"risk"`
	InitialPhase string              `yaml:"initial_phase" json:"initial_phase" jsonschema:"title=Initial phase,required" validate:"required"`
	Phases       map[string]Phase    `yaml:"phases" json:"phases" jsonschema:"title=Phases,required" validate:"required,dive"`
}

// UnmarshalYAML maps the optional min_engine_version onto an Option.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plainConfig struct {
		Schema           string              `yaml:"schema"`
		ID               string              `yaml:"id"`
		Name             string              `yaml:"name"`
		Version          string              `yaml:"version"`
		MinEngineVersion *string             `yaml:"min_engine_version"`
		Indicators       []IndicatorRef      `yaml:"indicators"`
		Variables        map[string]Variable `yaml:"variables"`
		Risk             RiskProfile         `yaml:"risk"`
		InitialPhase     string              `yaml:"initial_phase"`
		Phases           map[string]Phase    `yaml:"phases"`
	}

	var raw plainConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.Schema = raw.Schema
	c.ID = raw.ID
	c.Name = raw.Name
	c.Version = raw.Version
	c.Indicators = raw.Indicators
	c.Variables = raw.Variables
	c.Risk = raw.Risk
	c.InitialPhase = raw.InitialPhase
	c.Phases = raw.Phases

	if raw.MinEngineVersion != nil {
		c.MinEngineVersion = optional.Some(*raw.MinEngineVersion)
	}

	return nil
}

// IndicatorRef declares one indicator the playbook needs refreshed each
// cycle, keyed by the id its expressions reference as ind.<id>.<field>.
type IndicatorRef struct {
	ID        string              `yaml:"id" json:"id" jsonschema:"title=ID,description=Reference id used in expressions,required" validate:"required"`
	Type      types.IndicatorType `yaml:"type" json:"type" jsonschema:"title=Type,required" validate:"required,oneof=rsi macd bollinger_bands ema atr ma"`
	Timeframe types.Timeframe     `yaml:"timeframe" json:"timeframe" jsonschema:"title=Timeframe,required" validate:"required"`
	Params    map[string]float64  `yaml:"params" json:"params,omitempty" jsonschema:"title=Parameters"`
}

// Variable declares one instance variable and its default value. All DSL
// variables are floats.
type Variable struct {
	Default float64 `yaml:"default" json:"default" jsonschema:"title=Default value,required"`
}

// UnmarshalYAML accepts either the mapping form {default: 2.0} or a bare
// scalar default.
func (v *Variable) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&v.Default)
	case yaml.MappingNode:
		type plainVariable Variable

		var raw plainVariable
		if err := value.Decode(&raw); err != nil {
			return err
		}

		*v = Variable(raw)

		return nil
	default:
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "variable at line %d must be a number or a {default: ...} mapping", value.Line)
	}
}

// RiskProfile carries read-only limits that expressions reference as
// risk.<field>. The engine never enforces them; the downstream risk gate
// does.
type RiskProfile struct {
	MaxLot                 float64 `yaml:"max_lot" json:"max_lot" jsonschema:"title=Maximum lot size,minimum=0" validate:"gte=0"`
	MaxDailyTrades         float64 `yaml:"max_daily_trades" json:"max_daily_trades" jsonschema:"title=Maximum trades per day,minimum=0" validate:"gte=0"`
	MaxDrawdownPercent     float64 `yaml:"max_drawdown_percent" json:"max_drawdown_percent" jsonschema:"title=Maximum drawdown percent,minimum=0,maximum=100" validate:"gte=0,lte=100"`
	MaxConcurrentPositions float64 `yaml:"max_concurrent_positions" json:"max_concurrent_positions" jsonschema:"title=Maximum concurrent positions,minimum=0" validate:"gte=0"`
}

// Fields exposes the profile as the flat map expression contexts read.
func (r RiskProfile) Fields() map[string]float64 {
	return map[string]float64{
		"max_lot":                  r.MaxLot,
		"max_daily_trades":         r.MaxDailyTrades,
		"max_drawdown_percent":     r.MaxDrawdownPercent,
		"max_concurrent_positions": r.MaxConcurrentPositions,
	}
}

// Load parses a playbook document (YAML; JSON is accepted as a YAML subset)
// and validates it. An invalid document is rejected here, before activation,
// never partway through a later cycle.
func Load(raw []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse playbook document", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFile reads and loads a playbook document from disk.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read playbook file %s", path)
	}

	return Load(raw)
}

// DefaultVariables returns a fresh variable map initialized to the declared
// defaults. Each instance gets its own copy at activation.
func (c *Config) DefaultVariables() map[string]float64 {
	vars := make(map[string]float64, len(c.Variables))
	for name, decl := range c.Variables {
		vars[name] = decl.Default
	}

	return vars
}

// Phase returns the named phase.
func (c *Config) Phase(name string) (Phase, bool) {
	phase, ok := c.Phases[name]

	return phase, ok
}
