package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage <image-id>",
	Short: "Show which entities reference an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid image id %q: %w", args[0], err)
	}

	rt, err := cfg.Build(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	img, err := rt.Service.GetImage(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s  (%d references)\n\n", img.ID, img.FileName, img.ReferenceCount)
	if len(img.UsedBy) == 0 {
		fmt.Fprintln(out, "not referenced")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY TYPE\tENTITY ID\tFIELD\tADDED")
	for _, ref := range img.UsedBy {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ref.EntityType, ref.EntityID, ref.Field, ref.AddedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
