// Package migrate implements the migrate command, which applies the
// database schema.
package migrate

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/coursecheck/cmd/common"
	"github.com/jonesrussell/coursecheck/internal/logger"
)

const defaultSchemaPath = "migrations/schema.sql"

// Command returns the migrate command.
func Command(cfgFile *string) *cobra.Command {
	var schemaPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *cfgFile, schemaPath)
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", defaultSchemaPath, "path to the schema file")

	return cmd
}

func run(ctx context.Context, cfgFile, schemaPath string) error {
	deps, err := common.Core(cfgFile)
	if err != nil {
		return err
	}
	defer deps.Close()

	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	if _, err := deps.DB.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	deps.Logger.Info("schema applied", logger.String("path", schemaPath))
	return nil
}
