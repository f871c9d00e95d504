package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ConflictBehavior is the server-side action when a create or upload
// target name already exists.
type ConflictBehavior string

const (
	ConflictFail    ConflictBehavior = "fail"
	ConflictReplace ConflictBehavior = "replace"
	ConflictRename  ConflictBehavior = "rename"
)

func (cb ConflictBehavior) validate() error {
	switch cb {
	case ConflictFail, ConflictReplace, ConflictRename:
		return nil
	default:
		return usageError("conflict behavior expected 'fail', 'replace', or 'rename', got %q", string(cb))
	}
}

// Item is a drive item (file or folder) normalized from the API response.
type Item struct {
	ID         string
	Name       string
	Size       int64
	IsFolder   bool
	ChildCount int
	MimeType   string
	WebURL     string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

type itemResponse struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Size                 int64  `json:"size"`
	WebURL               string `json:"webUrl"`
	CreatedDateTime      string `json:"createdDateTime"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
	Folder               *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	File *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
}

func (ir itemResponse) toItem() Item {
	item := Item{
		ID:     ir.ID,
		Name:   ir.Name,
		Size:   ir.Size,
		WebURL: ir.WebURL,
	}

	if ir.Folder != nil {
		item.IsFolder = true
		item.ChildCount = ir.Folder.ChildCount
	}

	if ir.File != nil {
		item.MimeType = ir.File.MimeType
	}

	// Timestamps are best-effort; some responses omit them.
	if t, err := time.Parse(time.RFC3339, ir.CreatedDateTime); err == nil {
		item.CreatedAt = t
	}

	if t, err := time.Parse(time.RFC3339, ir.LastModifiedDateTime); err == nil {
		item.ModifiedAt = t
	}

	return item
}

// ListDirectory lists the items within a folder, following pagination.
// An empty folderID lists the drive root.
func (c *Client) ListDirectory(ctx context.Context, folderID string) ([]Item, error) {
	path := "root/children"
	if folderID != "" {
		path = "items/" + folderID + "/children"
	}

	const op = "directory could not be listed"

	var items []Item

	for {
		resp, err := c.do(ctx, c.http, http.MethodGet, path, "", nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			Value    []itemResponse `json:"value"`
			NextLink string         `json:"@odata.nextLink"`
		}

		err = checkStatus(resp, ErrTransfer, op, http.StatusOK)
		if err == nil {
			err = decodeJSON(resp, ErrTransfer, op, &page)
		}

		resp.Body.Close()

		if err != nil {
			return nil, err
		}

		for _, ir := range page.Value {
			items = append(items, ir.toItem())
		}

		if page.NextLink == "" {
			return items, nil
		}

		// Pagination links are absolute; strip back to a client path.
		next, ok := strings.CutPrefix(page.NextLink, c.baseURL)
		if !ok {
			return nil, fmt.Errorf("graph: unexpected pagination link %q", page.NextLink)
		}

		path = next
	}
}

// DetailItem retrieves an item's metadata by item id.
func (c *Client) DetailItem(ctx context.Context, itemID string) (*Item, error) {
	return c.fetchItem(ctx, "items/"+itemID)
}

// DetailItemPath retrieves an item's metadata by drive path.
func (c *Client) DetailItemPath(ctx context.Context, itemPath string) (*Item, error) {
	if itemPath == "" || itemPath[0] != '/' {
		itemPath = "/" + itemPath
	}

	return c.fetchItem(ctx, "root:"+itemPath)
}

func (c *Client) fetchItem(ctx context.Context, path string) (*Item, error) {
	resp, err := c.do(ctx, c.http, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	const op = "item could not be detailed"
	if err := checkStatus(resp, ErrTransfer, op, http.StatusOK); err != nil {
		return nil, err
	}

	var ir itemResponse
	if err := decodeJSON(resp, ErrTransfer, op, &ir); err != nil {
		return nil, err
	}

	item := ir.toItem()

	return &item, nil
}

// MakeFolder creates a folder under the given parent (empty parentID means
// root). When checkExisting is set, a folder of the same name is returned
// instead of creating a new one; onConflict only applies otherwise.
func (c *Client) MakeFolder(
	ctx context.Context, name, parentID string, checkExisting bool, onConflict ConflictBehavior,
) (string, error) {
	if name == "" {
		return "", usageError("folder name must not be empty")
	}

	if onConflict == "" {
		onConflict = ConflictRename
	}

	if err := onConflict.validate(); err != nil {
		return "", err
	}

	if checkExisting {
		items, err := c.ListDirectory(ctx, parentID)
		if err != nil {
			return "", err
		}

		for _, item := range items {
			if item.Name == name && item.IsFolder {
				return item.ID, nil
			}
		}
	}

	path := "root/children"
	if parentID != "" {
		path = "items/" + parentID + "/children"
	}

	body, err := json.Marshal(map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": string(onConflict),
	})
	if err != nil {
		return "", fmt.Errorf("graph: marshaling folder request: %w", err)
	}

	resp, err := c.do(ctx, c.http, http.MethodPost, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	const op = "folder not created"
	if err := checkStatus(resp, ErrTransfer, op, http.StatusCreated); err != nil {
		return "", err
	}

	var ir itemResponse
	if err := decodeJSON(resp, ErrTransfer, op, &ir); err != nil {
		return "", err
	}

	c.logger.Info("folder created", slog.String("item_id", ir.ID), slog.String("name", name))

	return ir.ID, nil
}

// MoveItem moves an item into the given folder, optionally renaming it.
// Returns the moved item id and its new parent folder id.
func (c *Client) MoveItem(ctx context.Context, itemID, newFolderID, newName string) (string, string, error) {
	patch := map[string]any{
		"parentReference": map[string]string{"id": newFolderID},
	}
	if newName != "" {
		patch["name"] = newName
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return "", "", fmt.Errorf("graph: marshaling move request: %w", err)
	}

	resp, err := c.do(ctx, c.http, http.MethodPatch, "items/"+itemID, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	const op = "item not moved"
	if err := checkStatus(resp, ErrTransfer, op, http.StatusOK); err != nil {
		return "", "", err
	}

	var moved struct {
		ID              string `json:"id"`
		ParentReference struct {
			ID string `json:"id"`
		} `json:"parentReference"`
	}

	if err := decodeJSON(resp, ErrTransfer, op, &moved); err != nil {
		return "", "", err
	}

	return moved.ID, moved.ParentReference.ID, nil
}

// RenameItem renames an item in place and returns the new name reported by
// the server.
func (c *Client) RenameItem(ctx context.Context, itemID, newName string) (string, error) {
	if newName == "" {
		return "", usageError("new name must not be empty")
	}

	body, err := json.Marshal(map[string]string{"name": newName})
	if err != nil {
		return "", fmt.Errorf("graph: marshaling rename request: %w", err)
	}

	resp, err := c.do(ctx, c.http, http.MethodPatch, "items/"+itemID, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	const op = "item not renamed"
	if err := checkStatus(resp, ErrTransfer, op, http.StatusOK); err != nil {
		return "", err
	}

	var renamed struct {
		Name string `json:"name"`
	}

	if err := decodeJSON(resp, ErrTransfer, op, &renamed); err != nil {
		return "", err
	}

	return renamed.Name, nil
}

// DeleteItem deletes an item. Deleted items are typically restorable from
// the drive's web client for a period.
func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	resp, err := c.do(ctx, c.http, http.MethodDelete, "items/"+itemID, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp, ErrTransfer, "item not deleted", http.StatusNoContent)
}

// Copy-monitor polling bounds. The wait adapts to the reported progress
// rate but always stays within [1s, 10s].
const (
	copyPollMin = 1 * time.Second
	copyPollMax = 10 * time.Second
)

// CopyItem copies an item into the given folder server-side, optionally
// with a new name. When wait is set, it polls the async operation monitor
// until completion and returns the new item id; otherwise it returns an
// empty id immediately after the copy is accepted.
func (c *Client) CopyItem(ctx context.Context, itemID, newFolderID, newName string, wait bool) (string, error) {
	info, err := c.DriveDetails(ctx, false)
	if err != nil {
		return "", err
	}

	patch := map[string]any{
		"parentReference": map[string]string{
			"driveId": info.ID,
			"id":      newFolderID,
		},
	}
	if newName != "" {
		patch["name"] = newName
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return "", fmt.Errorf("graph: marshaling copy request: %w", err)
	}

	resp, err := c.do(ctx, c.http, http.MethodPost, "items/"+itemID+"/copy", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, ErrTransfer, "item not copied", http.StatusAccepted); err != nil {
		return "", err
	}

	if !wait {
		return "", nil
	}

	monitorURL := resp.Header.Get("Location")
	if monitorURL == "" {
		return "", &APIError{
			Op:         "item not copied",
			Reason:     "response did not contain a monitor location",
			StatusCode: resp.StatusCode,
			Kind:       ErrTransfer,
		}
	}

	return c.awaitCopy(ctx, monitorURL)
}

// awaitCopy polls the copy monitor URL until the operation completes.
// The monitor URL is pre-authenticated; no bearer token is sent.
func (c *Client) awaitCopy(ctx context.Context, monitorURL string) (string, error) {
	wait := copyPollMin
	previous := 0.0

	for {
		if err := c.sleepFunc(ctx, wait); err != nil {
			return "", fmt.Errorf("graph: copy wait cancelled: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, monitorURL, nil)
		if err != nil {
			return "", fmt.Errorf("graph: creating copy monitor request: %w", err)
		}

		req.Header.Set("User-Agent", userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return "", fmt.Errorf("graph: copy monitor request failed: %w", err)
		}

		var status struct {
			Status             string  `json:"status"`
			PercentageComplete float64 `json:"percentageComplete"`
			ResourceID         string  `json:"resourceId"`
		}

		decErr := decodeJSON(resp, ErrTransfer, "copy progress could not be monitored", &status)

		resp.Body.Close()

		if decErr != nil {
			return "", decErr
		}

		if status.Status == "completed" {
			c.logger.Debug("copy complete", slog.String("item_id", status.ResourceID))

			return status.ResourceID, nil
		}

		// Estimate time to completion from the progress made during the
		// last wait, then clamp.
		if delta := status.PercentageComplete - previous; delta > 0 {
			wait = time.Duration((100.0/delta)*float64(wait)) - wait
		} else {
			wait = copyPollMax
		}

		wait = min(max(wait, copyPollMin), copyPollMax)
		previous = status.PercentageComplete

		c.logger.Debug("copy in progress",
			slog.Float64("percent", status.PercentageComplete),
			slog.Duration("next_poll", wait),
		)
	}
}

// ShareLinkOptions configures CreateShareLink.
type ShareLinkOptions struct {
	Type       string // "view", "edit", or "embed" (personal drives only)
	Scope      string // "anonymous" or "organization" (business/sharepoint only)
	Password   string // personal drives only
	Expiration time.Time
}

// CreateShareLink creates a sharing link for an item. Returns the web link,
// or an HTML iframe snippet for embed links.
func (c *Client) CreateShareLink(ctx context.Context, itemID string, opts ShareLinkOptions) (string, error) {
	if opts.Type == "" {
		opts.Type = "view"
	}

	if opts.Scope == "" {
		opts.Scope = "anonymous"
	}

	info, err := c.DriveDetails(ctx, false)
	if err != nil {
		return "", err
	}

	switch opts.Type {
	case "view", "edit":
	case "embed":
		if info.Type != "personal" {
			return "", usageError("link type 'embed' is not available for %s drives", info.Type)
		}
	default:
		return "", usageError("link type expected 'view', 'edit', or 'embed', got %q", opts.Type)
	}

	switch opts.Scope {
	case "anonymous":
	case "organization":
		if info.Type != "business" && info.Type != "sharepoint" {
			return "", usageError("scope 'organization' is not available for %s drives", info.Type)
		}
	default:
		return "", usageError("scope expected 'anonymous' or 'organization', got %q", opts.Scope)
	}

	if opts.Password != "" && info.Type != "personal" {
		return "", usageError("link passwords are not available for %s drives", info.Type)
	}

	if !opts.Expiration.IsZero() && opts.Expiration.Before(time.Now()) {
		return "", usageError("expiration can not be in the past")
	}

	payload := map[string]any{
		"type":  opts.Type,
		"scope": opts.Scope,
	}

	if opts.Password != "" {
		payload["password"] = opts.Password
	}

	if !opts.Expiration.IsZero() {
		payload["expirationDateTime"] = opts.Expiration.UTC().Truncate(time.Second).Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("graph: marshaling share link request: %w", err)
	}

	resp, err := c.do(ctx, c.http, http.MethodPost, "items/"+itemID+"/createLink", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	const op = "share link could not be created"
	if err := checkStatus(resp, ErrTransfer, op, http.StatusOK, http.StatusCreated); err != nil {
		return "", err
	}

	var link struct {
		Link struct {
			WebURL  string `json:"webUrl"`
			WebHTML string `json:"webHtml"`
		} `json:"link"`
	}

	if err := decodeJSON(resp, ErrTransfer, op, &link); err != nil {
		return "", err
	}

	if opts.Type == "embed" {
		return link.Link.WebHTML, nil
	}

	return link.Link.WebURL, nil
}

// escapePath escapes a file name for use in a colon-delimited item path.
func escapePath(name string) string {
	return url.PathEscape(name)
}
