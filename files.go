package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphdrive/graphdrive/internal/graph"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [folder-id]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer s.save()

	folderID := ""
	if len(args) == 1 {
		folderID = args[0]
	}

	items, err := s.client.ListDirectory(cmd.Context(), folderID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)

	for _, item := range items {
		kind := "file"
		size := formatSize(item.Size)

		if item.IsFolder {
			kind = "dir"
			size = fmt.Sprintf("%d items", item.ChildCount)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			item.ID, kind, size, formatTime(item.ModifiedAt), item.Name)
	}

	return w.Flush()
}

func newMkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}

	cmd.Flags().String("parent", "", "parent folder id (default: drive root)")
	cmd.Flags().Bool("if-missing", false, "reuse an existing folder of the same name")

	return cmd
}

func runMkdir(cmd *cobra.Command, args []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer s.save()

	parentID, _ := cmd.Flags().GetString("parent")
	ifMissing, _ := cmd.Flags().GetBool("if-missing")

	id, err := s.client.MakeFolder(cmd.Context(), args[0], parentID, ifMissing, graph.ConflictRename)
	if err != nil {
		return err
	}

	fmt.Println(id)

	return nil
}

func newMvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv <item-id> <folder-id>",
		Short: "Move an item into a folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}

	cmd.Flags().String("name", "", "rename the item while moving")

	return cmd
}

func runMv(cmd *cobra.Command, args []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer s.save()

	newName, _ := cmd.Flags().GetString("name")

	id, parentID, err := s.client.MoveItem(cmd.Context(), args[0], args[1], newName)
	if err != nil {
		return err
	}

	fmt.Printf("%s moved to %s\n", id, parentID)

	return nil
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <item-id>",
		Short: "Delete an item (restorable from the web recycle bin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func runRm(cmd *cobra.Command, args []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer s.save()

	return s.client.DeleteItem(cmd.Context(), args[0])
}

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share <item-id>",
		Short: "Create a sharing link",
		Args:  cobra.ExactArgs(1),
		RunE:  runShare,
	}

	cmd.Flags().String("type", "view", "link type: view, edit or embed")
	cmd.Flags().String("scope", "anonymous", "link scope: anonymous or organization")
	cmd.Flags().String("password", "", "link password (personal drives only)")
	cmd.Flags().Duration("expires-in", 0, "link lifetime, e.g. 72h (0 means no expiration)")

	return cmd
}

func runShare(cmd *cobra.Command, args []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer s.save()

	linkType, _ := cmd.Flags().GetString("type")
	scope, _ := cmd.Flags().GetString("scope")
	password, _ := cmd.Flags().GetString("password")
	expiresIn, _ := cmd.Flags().GetDuration("expires-in")

	opts := graph.ShareLinkOptions{
		Type:     linkType,
		Scope:    scope,
		Password: password,
	}

	if expiresIn > 0 {
		opts.Expiration = time.Now().Add(expiresIn)
	}

	link, err := s.client.CreateShareLink(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}

	fmt.Println(link)

	return nil
}

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show drive storage usage",
		Args:  cobra.NoArgs,
		RunE:  runUsage,
	}

	cmd.Flags().String("unit", "gb", "unit: b, kb, mb or gb")

	return cmd
}

func runUsage(cmd *cobra.Command, args []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer s.save()

	unit, _ := cmd.Flags().GetString("unit")

	used, total, err := s.client.Usage(cmd.Context(), unit, true)
	if err != nil {
		return err
	}

	info, err := s.client.DriveDetails(cmd.Context(), false)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s): %.2f %s used of %.2f %s\n",
		info.Name, info.Type, used, unit, total, unit)

	return nil
}
