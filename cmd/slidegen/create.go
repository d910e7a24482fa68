package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"slidegen/internal/models"
)

var createCmd = &cobra.Command{
	Use:   "create <deck.json|->",
	Short: "Store a deck on the backend",
	Long: `Reads a deck as JSON (topic, visualStyle, themeId and slides) from a
file or from stdin and stores it on the backend. Prints the new deck id.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	var deck models.Deck
	if err := json.NewDecoder(r).Decode(&deck); err != nil {
		return fmt.Errorf("failed to parse deck: %w", err)
	}

	created, err := newAPIClient().CreatePresentation(ctx, &deck)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d slides\n", created.ID, len(created.Slides))
	return nil
}
