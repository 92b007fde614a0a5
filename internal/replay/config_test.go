package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-playbook/internal/indicator"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) TestEmptyConfig() {
	config := EmptyConfig()

	suite.True(config.StartTime.IsNone())
	suite.True(config.EndTime.IsNone())
	suite.Equal(StoreMemory, config.Store)
	suite.Equal("results", config.Output)
	suite.Equal(indicator.DefaultHistoryLimit, config.HistoryLimit)
}

func (suite *ConfigTestSuite) TestParseComplete() {
	raw := `
playbook: ./playbooks/breakout.yaml
data: ./data/xauusd_m15.parquet
symbols: [XAUUSD, EURUSD]
timeframe: M15
start_time: 2024-01-02T00:00:00Z
end_time: 2024-06-28T00:00:00Z
store: duckdb
output: ./out
history_limit: 256
`

	config, err := ParseConfig([]byte(raw))
	suite.Require().NoError(err)

	suite.Equal("./playbooks/breakout.yaml", config.PlaybookPath)
	suite.Equal("./data/xauusd_m15.parquet", config.DataPath)
	suite.Equal([]string{"XAUUSD", "EURUSD"}, config.Symbols)
	suite.Equal(types.TimeframeM15, config.Timeframe)
	suite.Equal(StoreDuckDB, config.Store)
	suite.Equal("./out", config.Output)
	suite.Equal(256, config.HistoryLimit)

	suite.Require().True(config.StartTime.IsSome())
	suite.Equal(2024, config.StartTime.Unwrap().Year())
	suite.Equal(time.January, config.StartTime.Unwrap().Month())

	suite.Require().True(config.EndTime.IsSome())
	suite.Equal(time.June, config.EndTime.Unwrap().Month())
	suite.Equal(28, config.EndTime.Unwrap().Day())
}

func (suite *ConfigTestSuite) TestParseAppliesDefaults() {
	raw := `
playbook: breakout.yaml
data: bars.csv
symbols: [EURUSD]
timeframe: M15
`

	config, err := ParseConfig([]byte(raw))
	suite.Require().NoError(err)

	suite.True(config.StartTime.IsNone())
	suite.True(config.EndTime.IsNone())
	suite.Equal(StoreMemory, config.Store)
	suite.Equal("results", config.Output)
	suite.Equal(indicator.DefaultHistoryLimit, config.HistoryLimit)
}

func (suite *ConfigTestSuite) TestParseDefaultsNonPositiveHistoryLimit() {
	raw := `
playbook: breakout.yaml
data: bars.csv
symbols: [EURUSD]
timeframe: M15
history_limit: -5
`

	config, err := ParseConfig([]byte(raw))
	suite.Require().NoError(err)

	suite.Equal(indicator.DefaultHistoryLimit, config.HistoryLimit)
}

func (suite *ConfigTestSuite) TestParseRejectsMissingPlaybook() {
	raw := `
data: bars.csv
symbols: [EURUSD]
timeframe: M15
`

	_, err := ParseConfig([]byte(raw))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestParseRejectsMissingData() {
	raw := `
playbook: breakout.yaml
symbols: [EURUSD]
timeframe: M15
`

	_, err := ParseConfig([]byte(raw))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestParseRejectsEmptySymbols() {
	raw := `
playbook: breakout.yaml
data: bars.csv
timeframe: M15
`

	_, err := ParseConfig([]byte(raw))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestParseRejectsUnknownTimeframe() {
	raw := `
playbook: breakout.yaml
data: bars.csv
symbols: [EURUSD]
timeframe: 15min
`

	_, err := ParseConfig([]byte(raw))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidTimeframe))
}

func (suite *ConfigTestSuite) TestParseRejectsUnknownStore() {
	raw := `
playbook: breakout.yaml
data: bars.csv
symbols: [EURUSD]
timeframe: M15
store: redis
`

	_, err := ParseConfig([]byte(raw))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestParseRejectsMalformedYAML() {
	_, err := ParseConfig([]byte("playbook: ["))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestLoadConfigFile() {
	raw := `
playbook: breakout.yaml
data: bars.csv
symbols: [EURUSD]
timeframe: M15
`

	path := filepath.Join(suite.T().TempDir(), "replay.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(raw), 0o600))

	config, err := LoadConfigFile(path)
	suite.Require().NoError(err)
	suite.Equal("breakout.yaml", config.PlaybookPath)
}

func (suite *ConfigTestSuite) TestLoadConfigFileMissing() {
	_, err := LoadConfigFile(filepath.Join(suite.T().TempDir(), "missing.yaml"))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestGenerateSchemaJSON() {
	config := &Config{}

	schemaJSON, err := config.GenerateSchemaJSON()
	suite.Require().NoError(err)
	suite.NotEmpty(schemaJSON)

	var result map[string]interface{}
	suite.Require().NoError(json.Unmarshal([]byte(schemaJSON), &result))
	suite.Equal("replay-config", result["title"])

	properties, ok := result["properties"].(map[string]interface{})
	suite.Require().True(ok)
	suite.Contains(properties, "playbook")
	suite.Contains(properties, "store")
	suite.Contains(properties, "timeframe")
}
