package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <deck-id>",
	Short: "Show the image state of every slide",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	client := newAPIClient()
	deck, err := client.GetPresentation(ctx, args[0])
	if err != nil {
		return err
	}
	status, err := client.BatchStatus(ctx, deck.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	p := newPainter(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	// styled status goes last so escape codes do not skew the columns
	fmt.Fprintln(w, "#\tSLIDE\tIMAGE\tSTATUS")
	for i, slide := range deck.Slides {
		st := status.SlideStatuses[slide.ID]
		line := p.status(st.Status)
		if st.Error != "" {
			line += " " + st.Error
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, slide.Title, st.ImageURL, line)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d/%d complete", status.Completed, status.Total)
	if status.AllComplete {
		fmt.Fprint(out, " (done)")
	}
	fmt.Fprintln(out)
	return nil
}
