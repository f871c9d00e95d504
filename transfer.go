package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/graphdrive/graphdrive/internal/graph"
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <local-path>",
		Short: "Upload a file through a chunked upload session",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}

	cmd.Flags().String("parent", "", "destination folder id (default: drive root)")
	cmd.Flags().String("name", "", "destination file name (default: local name)")
	cmd.Flags().String("on-conflict", "rename", "when the name exists: fail, replace or rename")

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer s.save()

	parentID, _ := cmd.Flags().GetString("parent")
	name, _ := cmd.Flags().GetString("name")
	onConflict, _ := cmd.Flags().GetString("on-conflict")

	opts := graph.UploadOptions{
		Name:       name,
		ParentID:   parentID,
		OnConflict: graph.ConflictBehavior(onConflict),
		Progress:   progressMeter(),
	}

	itemID, err := s.client.UploadFile(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}

	finishMeter()
	fmt.Println(itemID)

	return nil
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <item-id>",
		Short: "Download a file using parallel connections",
		Args:  cobra.ExactArgs(1),
		RunE:  runDownload,
	}

	cmd.Flags().String("dir", "", "destination directory (default: current directory)")
	cmd.Flags().Int("max-connections", graph.DefaultMaxConnections, "concurrent download connections")

	return cmd
}

func runDownload(cmd *cobra.Command, args []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer s.save()

	dir, _ := cmd.Flags().GetString("dir")
	maxConns, _ := cmd.Flags().GetInt("max-connections")

	name, err := s.client.DownloadFile(cmd.Context(), args[0], graph.DownloadOptions{
		Dir:            dir,
		MaxConnections: maxConns,
	})
	if err != nil {
		return err
	}

	fmt.Println(name)

	return nil
}

// progressMeter returns an upload progress callback that rewrites a single
// stderr line, or nil when stderr is not an interactive terminal or quiet
// mode is set.
func progressMeter() graph.ProgressFunc {
	if flagQuiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	return func(sent, total int64) {
		fmt.Fprintf(os.Stderr, "\r%s / %s (%d%%)", formatSize(sent), formatSize(total), sent*100/total)
	}
}

// finishMeter terminates the progress line when one was being drawn.
func finishMeter() {
	if flagQuiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return
	}

	fmt.Fprintln(os.Stderr)
}
