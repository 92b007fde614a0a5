package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/replay"
)

// schemaGenerator is anything that can render its own JSON schema, so the
// playbook document and the replay config share one writing path.
type schemaGenerator interface {
	GenerateSchemaJSON() (string, error)
}

const configDir = "./config"

// sampleReplayConfig seeds a new workspace with a starting point. Written by
// hand because marshaling the zero config would render the optional times as
// empty sequences.
const sampleReplayConfig = `playbook: ./playbooks/my-playbook.yaml
data: ./data/bars.parquet
symbols:
  - XAUUSD
timeframe: M15
# start_time: 2024-01-01T00:00:00Z
# end_time: 2024-06-30T00:00:00Z
store: memory
output: results
history_limit: 512
`

func main() {
	schemas := []struct {
		name      string
		generator schemaGenerator
	}{
		{name: "playbook-v1.json", generator: &playbook.Config{}},
		{name: "replay-config.json", generator: &replay.Config{}},
	}

	for _, schema := range schemas {
		path := filepath.Join(configDir, schema.name)
		if err := generateSchemaFile(schema.generator, path); err != nil {
			log.Fatalf("Failed to generate %s: %v", schema.name, err)
		}

		log.Printf("Schema successfully generated at %s", path)
	}

	samplePath := filepath.Join(configDir, "replay-config.yaml")
	if err := generateSampleConfig(samplePath, "replay-config.json"); err != nil {
		log.Fatalf("Failed to generate sample config: %v", err)
	}
}

func generateSchemaFile(generator schemaGenerator, schemaPath string) error {
	schemaJSON, err := generator.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(schemaPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(schemaPath, []byte(schemaJSON), 0644); err != nil {
		return fmt.Errorf("failed to write schema to file: %w", err)
	}

	return nil
}

// generateSampleConfig writes the sample once; an existing file belongs to
// the user and stays untouched.
func generateSampleConfig(samplePath, schemaName string) error {
	if _, err := os.Stat(samplePath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(samplePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	content := getSchemaReference(schemaName) + sampleReplayConfig

	if err := os.WriteFile(samplePath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write sample config to file: %w", err)
	}

	log.Printf("Sample config successfully generated at %s", samplePath)

	return nil
}

func getSchemaReference(schemaName string) string {
	return "# yaml-language-server: $schema=" + schemaName + "\n"
}
