package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zentryhq/zentry-webhooks/internal/models"
	"github.com/zentryhq/zentry-webhooks/internal/registry"
)

func integrationCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "integration",
		Aliases: []string{"integrations"},
		Short:   "Manage chat integrations",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new integration",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dest, _ := cmd.Flags().GetString("kind")
			url, _ := cmd.Flags().GetString("url")
			project, _ := cmd.Flags().GetString("project")
			owner, _ := cmd.Flags().GetString("owner")
			events, _ := cmd.Flags().GetStringSlice("events")

			c, err := buildComponents(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			ig, err := c.registry.Create(cmd.Context(), registry.CreateInput{
				Name:            name,
				DestinationKind: dest,
				TargetURL:       url,
				ProjectID:       project,
				OwnerID:         owner,
				EventKinds:      events,
			})
			if err != nil {
				return err
			}
			return printJSON(ig)
		},
	}
	createCmd.Flags().String("name", "", "integration name")
	createCmd.Flags().String("kind", "chat_embed", "destination kind (chat_embed|discord, chat_card|teams)")
	createCmd.Flags().String("url", "", "incoming webhook URL")
	createCmd.Flags().String("project", "", "project id")
	createCmd.Flags().String("owner", "", "owner user id")
	createCmd.Flags().StringSlice("events", nil, "subscribed event kinds")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, _ := cmd.Flags().GetString("project")
			dest, _ := cmd.Flags().GetString("kind")

			c, err := buildComponents(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			filter := models.IntegrationFilter{ProjectID: project, DestinationKind: models.DestinationKind(dest)}
			if cmd.Flags().Changed("active") {
				active, _ := cmd.Flags().GetBool("active")
				filter.Active = &active
			}

			igs, err := c.registry.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list integrations: %w", err)
			}
			if len(igs) == 0 {
				fmt.Println("No integrations found.")
				return nil
			}

			for _, ig := range igs {
				state := "active"
				if !ig.Active {
					state = "inactive"
				}
				kinds := make([]string, 0, len(ig.EventKinds))
				for _, k := range ig.EventKinds.Slice() {
					kinds = append(kinds, string(k))
				}
				fmt.Printf("  %s  %-10s  %-8s  %s  [%s]  (created %s)\n",
					ig.ID, ig.DestinationKind, state, ig.Name, strings.Join(kinds, ","), ig.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	listCmd.Flags().String("project", "", "filter by project id")
	listCmd.Flags().String("kind", "", "filter by destination kind")
	listCmd.Flags().Bool("active", true, "filter by active flag")

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <integration_id>",
		Short: "Stop dispatching to an integration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			ig, err := c.registry.Deactivate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(ig)
		},
	}

	cmd.AddCommand(createCmd, listCmd, deactivateCmd)
	return cmd
}

func attemptsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List delivery attempts, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			integrationID, _ := cmd.Flags().GetString("integration")
			state, _ := cmd.Flags().GetString("state")
			limit, _ := cmd.Flags().GetInt("limit")

			c, err := buildComponents(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			attempts, err := c.store.ListAttempts(cmd.Context(), models.AttemptFilter{
				IntegrationID: integrationID,
				State:         models.AttemptState(state),
				Limit:         limit,
			})
			if err != nil {
				return fmt.Errorf("failed to list attempts: %w", err)
			}

			for _, a := range attempts {
				code := "-"
				if a.ResponseCode != nil {
					code = fmt.Sprint(*a.ResponseCode)
				}
				fmt.Printf("  %s  #%d  %-7s  %-3s  %-17s  %s  %s\n",
					a.ID, a.AttemptNumber, a.State, code, a.EventKind, a.IntegrationID, a.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().String("integration", "", "filter by integration id")
	cmd.Flags().String("state", "", "filter by state (pending, sent, failed)")
	cmd.Flags().Int("limit", 20, "maximum rows")
	return cmd
}
