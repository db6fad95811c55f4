package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

var (
	listPage       int
	listLimit      int
	listSearch     string
	listTags       []string
	listFolder     string
	listEntityType string
	listEntityID   string
	listUploader   string
	listUnused     bool
	listJSON       bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List images with optional filtering",
	Aliases: []string{"ls"},
	Long: `List images, newest first.

Examples:
  simpleimage-admin list
  simpleimage-admin list --tag banner --folder uploads
  simpleimage-admin list --entity-type product --entity-id 42
  simpleimage-admin list --unused --json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVar(&listPage, "page", simpleimage.DefaultPage, "Page number (1-based)")
	listCmd.Flags().IntVar(&listLimit, "limit", simpleimage.DefaultLimit, "Images per page")
	listCmd.Flags().StringVar(&listSearch, "search", "", "Match file name or description")
	listCmd.Flags().StringSliceVar(&listTags, "tag", nil, "Require tag (repeatable)")
	listCmd.Flags().StringVar(&listFolder, "folder", "", "Filter by folder")
	listCmd.Flags().StringVar(&listEntityType, "entity-type", "", "Filter by referencing entity type")
	listCmd.Flags().StringVar(&listEntityID, "entity-id", "", "Filter by referencing entity id")
	listCmd.Flags().StringVar(&listUploader, "uploaded-by", "", "Filter by uploader id")
	listCmd.Flags().BoolVar(&listUnused, "unused", false, "Only images with no references")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")
}

func runList(cmd *cobra.Command, args []string) error {
	rt, err := cfg.Build(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.Service.GetAllImages(cmd.Context(), simpleimage.ListImagesRequest{
		Filters: simpleimage.ImageListFilters{
			Search:     listSearch,
			Tags:       listTags,
			Folder:     listFolder,
			EntityType: simpleimage.EntityType(listEntityType),
			EntityID:   listEntityID,
			UploaderID: listUploader,
			UnusedOnly: listUnused,
		},
		Pagination: simpleimage.Pagination{Page: listPage, Limit: listLimit},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if listJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tSIZE\tREFS\tFOLDER\tTAGS\tCREATED")
	for _, img := range result.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			img.ID, img.FileName, img.FileSizeBytes, img.ReferenceCount,
			img.Folder, strings.Join(img.Tags, ","), img.CreatedAt.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\npage %d of %d, %d images\n", result.CurrentPage, result.TotalPages, result.Total)
	return nil
}
