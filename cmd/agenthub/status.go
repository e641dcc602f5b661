package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phosphorco/agenthub/internal/workspace"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the workspace hub's descriptor and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveWorkspace(cmd)
			if err != nil {
				return err
			}

			d, err := workspace.ReadDescriptor(root)
			if err != nil {
				return fmt.Errorf("no hub descriptor for workspace %s: %w", root, err)
			}

			fmt.Printf("workspace:  %s\n", root)
			fmt.Printf("instance:   %s\n", d.InstanceID)
			fmt.Printf("db:         %s\n", d.DBID)
			fmt.Printf("address:    %s:%d\n", d.Host, d.Port)
			fmt.Printf("pid:        %d\n", d.PID)
			fmt.Printf("started:    %s\n", d.StartedAt)

			if err := workspace.CheckHealth(cmd.Context(), d); err != nil {
				fmt.Printf("health:     unreachable (%v)\n", err)
				return nil
			}
			fmt.Println("health:     ok")
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the workspace hub's bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveWorkspace(cmd)
			if err != nil {
				return err
			}
			d, err := workspace.ReadDescriptor(root)
			if err != nil {
				return fmt.Errorf("no hub descriptor for workspace %s: %w", root, err)
			}
			fmt.Println(d.AuthToken)
			return nil
		},
	}
}

// resolveWorkspace applies the --workspace flag or walks up from the
// current directory.
func resolveWorkspace(cmd *cobra.Command) (string, error) {
	if ws, _ := cmd.Flags().GetString("workspace"); ws != "" {
		return ws, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return workspace.Find(wd)
}
