package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "Inspect and register personas",
}

var personasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered personas in display order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMODEL\tBUILT-IN")
		for _, p := range a.personas.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", p.ID, p.DisplayName, a.personas.ModelID(p.ID), p.BuiltIn)
		}
		return w.Flush()
	},
}

var personaName string

var personasAddCmd = &cobra.Command{
	Use:   "add <vanity-url>",
	Short: "Register a persona from its vanity URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.personas.Register(cmd.Context(), args[0], personaName, "")
		if err != nil {
			return err
		}
		if avatar := a.avatarFetcher().Fetch(cmd.Context(), p.ID); avatar != "" {
			p, _ = a.personas.CacheAvatar(cmd.Context(), p.ID, avatar)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", p.ID, p.DisplayName)
		return nil
	},
}

func init() {
	personasAddCmd.Flags().StringVar(&personaName, "name", "", "display name (derived from the id when empty)")
	personasCmd.AddCommand(personasListCmd, personasAddCmd)
}
