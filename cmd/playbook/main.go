package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rxtech-lab/argo-playbook/internal/playbook"
	"github.com/rxtech-lab/argo-playbook/internal/version"
	"github.com/urfave/cli/v3"
)

func main() {
	// Fold .env into the environment; real environment variables win.
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, stopping...")
		cancel()
	}()

	cmd := &cli.Command{
		Name:    "playbook",
		Usage:   "Validate and run trading playbooks",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			validateCommand(),
			schemaCommand(),
			replayCommand(),
			runCommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a playbook document",
		ArgsUsage: "<playbook.yaml>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("usage: playbook validate <playbook.yaml>")
			}

			config, err := playbook.LoadFile(path)
			if err != nil {
				return err
			}

			fmt.Printf("%s is valid: playbook %s version %s\n", path, config.ID, config.Version)

			return nil
		},
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the playbook document JSON schema",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			schema, err := (&playbook.Config{}).GenerateSchemaJSON()
			if err != nil {
				return err
			}

			fmt.Println(schema)

			return nil
		},
	}
}
