package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Segment planning constants. The segment count heuristic
// (size / (2 * minSegmentSize) + 1, capped at the connection limit) is
// kept for behavioral compatibility with prior releases.
const (
	minSegmentSize = 1 * 1024 * 1024
	segmentCopyBuf = 64 * 1024

	// DefaultMaxConnections is the concurrent segment fetch limit when
	// the caller does not choose one.
	DefaultMaxConnections = 8

	// maxSafeConnections is the threshold above which a warning is
	// emitted: higher concurrency risks server-side throttling and an
	// enforced cool-down period.
	maxSafeConnections = 16
)

// DownloadOptions configures DownloadFile.
type DownloadOptions struct {
	// Dir is the destination directory; empty means the current working
	// directory.
	Dir string

	// MaxConnections caps the number of concurrent segment fetches;
	// zero means DefaultMaxConnections.
	MaxConnections int
}

// segment is one contiguous byte range of the remote file, inclusive on
// both ends.
type segment struct {
	start int64
	end   int64
}

// planSegments partitions [0, size) into contiguous inclusive ranges. The
// count grows with file size up to maxConnections; the last segment
// absorbs the division remainder so the union covers the file exactly.
func planSegments(size int64, maxConnections int) []segment {
	n := size/(2*minSegmentSize) + 1
	if n > int64(maxConnections) {
		n = int64(maxConnections)
	}

	segmentSize := size / n

	segments := make([]segment, n)
	for i := range segments {
		start := segmentSize * int64(i)

		end := start + segmentSize - 1
		if int64(i) == n-1 {
			end = size - 1
		}

		segments[i] = segment{start: start, end: end}
	}

	return segments
}

// DownloadFile downloads a file item using concurrent ranged requests and
// reassembles the segments in order into a file named after the item in
// the destination directory. Returns the file name.
//
// Segments are fetched into per-segment part files inside a temporary
// directory that is removed on every exit path. Reassembly begins only
// after every segment has completed; any segment failure cancels the rest
// and no final file is produced.
func (c *Client) DownloadFile(ctx context.Context, itemID string, opts DownloadOptions) (string, error) {
	maxConnections := opts.MaxConnections
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}

	if maxConnections > maxSafeConnections {
		c.logger.Warn("high connection count could result in throttling and an enforced cool-down period",
			slog.Int("max_connections", maxConnections),
		)
	}

	item, err := c.DetailItem(ctx, itemID)
	if err != nil {
		return "", err
	}

	if item.IsFolder {
		return "", usageError("item %q is a folder, expected a file", itemID)
	}

	// The name comes from the server; strip any path components so the
	// output can only land inside the destination directory.
	name := filepath.Base(item.Name)
	if name == "." || name == string(filepath.Separator) {
		return "", &APIError{
			Op:     "item not downloaded",
			Reason: fmt.Sprintf("response item name %q is not usable as a file name", item.Name),
			Kind:   ErrTransfer,
		}
	}

	targetPath := filepath.Join(opts.Dir, name)

	// Nothing to transfer for an empty file.
	if item.Size == 0 {
		if err := os.WriteFile(targetPath, nil, 0o644); err != nil {
			return "", fmt.Errorf("graph: creating empty file %s: %w", targetPath, err)
		}

		c.logger.Warn("file size is 0, empty file created", slog.String("name", name))

		return name, nil
	}

	downloadURL, err := c.resolveContentURL(ctx, itemID)
	if err != nil {
		return "", err
	}

	segments := planSegments(item.Size, maxConnections)

	transferID := uuid.NewString()
	c.logger.Info("starting download",
		slog.String("transfer_id", transferID),
		slog.String("name", name),
		slog.Int64("size", item.Size),
		slog.Int("segments", len(segments)),
	)

	tmpDir, err := os.MkdirTemp("", "graphdrive-*")
	if err != nil {
		return "", fmt.Errorf("graph: creating temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	partPaths := make([]string, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	for i, seg := range segments {
		i, seg := i, seg
		partPaths[i] = filepath.Join(tmpDir, fmt.Sprintf("%s.%d", name, i+1))

		g.Go(func() error {
			return c.fetchSegment(gctx, downloadURL, seg, i+1, partPaths[i])
		})
	}

	// All segments must finish before reassembly; a failure skips it.
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("graph: download cancelled: %w", ctx.Err())
		}

		return "", err
	}

	if err := reassemble(targetPath, partPaths); err != nil {
		return "", err
	}

	c.logger.Info("download complete",
		slog.String("transfer_id", transferID),
		slog.String("name", name),
	)

	return name, nil
}

// resolveContentURL asks the item's content endpoint for the actual
// download URL, delivered as a redirect Location. The redirect is not
// followed; the URL is handed to the segment fetchers.
func (c *Client) resolveContentURL(ctx context.Context, itemID string) (string, error) {
	req, err := c.authorizedRequest(ctx, http.MethodGet, c.baseURL+"items/"+itemID+"/content", "", nil)
	if err != nil {
		return "", err
	}

	noRedirect := *c.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph: content URL request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, ErrTransfer, "could not get download url", http.StatusFound); err != nil {
		return "", err
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", &APIError{
			Op:         "could not get download url",
			Reason:     "response did not contain a download location",
			StatusCode: resp.StatusCode,
			Kind:       ErrTransfer,
		}
	}

	return location, nil
}

// fetchSegment GETs one byte range and streams it into its own part file.
func (c *Client) fetchSegment(ctx context.Context, downloadURL string, seg segment, index int, partPath string) error {
	f, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("graph: creating part file %s: %w", partPath, err)
	}
	defer f.Close()

	req, err := c.authorizedRequest(ctx, http.MethodGet, downloadURL, "", nil)
	if err != nil {
		return err
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.start, seg.end))

	c.logger.Debug("fetching segment",
		slog.Int("segment", index),
		slog.Int64("start", seg.start),
		slog.Int64("end", seg.end),
	)

	resp, err := c.transfer.Do(req)
	if err != nil {
		return fmt.Errorf("graph: segment %d request failed: %w", index, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, ErrTransfer,
		fmt.Sprintf("could not download segment %d", index),
		http.StatusOK, http.StatusPartialContent); err != nil {
		return err
	}

	buf := make([]byte, segmentCopyBuf)
	if _, err := io.CopyBuffer(f, resp.Body, buf); err != nil {
		return fmt.Errorf("graph: streaming segment %d: %w", index, err)
	}

	c.logger.Debug("segment complete", slog.Int("segment", index))

	return nil
}

// reassemble concatenates the part files in segment order into the final
// output file, deleting each part as it is consumed.
func reassemble(targetPath string, partPaths []string) error {
	out, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("graph: creating output file %s: %w", targetPath, err)
	}
	defer out.Close()

	for _, partPath := range partPaths {
		part, err := os.Open(partPath)
		if err != nil {
			return fmt.Errorf("graph: opening part %s: %w", partPath, err)
		}

		_, copyErr := io.Copy(out, part)

		part.Close()

		if copyErr != nil {
			return fmt.Errorf("graph: joining part %s: %w", partPath, copyErr)
		}

		os.Remove(partPath)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("graph: closing output file %s: %w", targetPath, err)
	}

	return nil
}
