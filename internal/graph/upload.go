package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ChunkAlignment is the protocol-mandated alignment for upload chunk
// sizes (320 KiB). Every chunk except the final one must be a multiple.
const ChunkAlignment = 320 * 1024

// DefaultChunkSize is 16 alignment units (5 MiB), within the protocol's
// recommended 5-10 MiB window.
const DefaultChunkSize = 16 * ChunkAlignment

// cancelTimeout bounds the server-side session cleanup request, which runs
// on a fresh context because the operation's own context may already be
// dead.
const cancelTimeout = 30 * time.Second

// ProgressFunc receives upload progress after each accepted chunk.
type ProgressFunc func(bytesSent, totalBytes int64)

// UploadOptions configures UploadFile.
type UploadOptions struct {
	// Name overrides the destination file name; defaults to the local
	// file's base name.
	Name string

	// ParentID is the destination folder; empty means the drive root.
	ParentID string

	// OnConflict defaults to ConflictRename.
	OnConflict ConflictBehavior

	// ChunkSize is rounded down to a ChunkAlignment multiple; zero means
	// DefaultChunkSize.
	ChunkSize int64

	Progress ProgressFunc
}

// UploadFile uploads a local file through a resumable upload session:
// chunks are PUT sequentially with Content-Range headers, the session is
// deleted server-side on any failure or cancellation, and the new item's
// id is returned on completion.
func (c *Client) UploadFile(ctx context.Context, localPath string, opts UploadOptions) (string, error) {
	if opts.OnConflict == "" {
		opts.OnConflict = ConflictRename
	}

	if err := opts.OnConflict.validate(); err != nil {
		return "", err
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(localPath)
	}

	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		return "", usageError("expected a path to an existing file, got %q", localPath)
	}

	size := info.Size()
	if size == 0 {
		return "", usageError("cannot upload a zero-byte file through an upload session")
	}

	chunkSize := normalizeChunkSize(opts.ChunkSize)
	chunks := int((size + chunkSize - 1) / chunkSize)

	transferID := uuid.NewString()
	c.logger.Info("starting upload",
		slog.String("transfer_id", transferID),
		slog.String("name", name),
		slog.Int64("size", size),
		slog.Int("chunks", chunks),
	)

	session, err := c.createUploadSession(ctx, name, opts.ParentID, opts.OnConflict, info)
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("graph: opening %s for upload: %w", localPath, err)
	}
	defer f.Close()

	itemID, err := c.uploadChunks(ctx, session, f, size, chunkSize, chunks, opts.Progress)
	if err != nil {
		return "", err
	}

	c.logger.Info("upload complete",
		slog.String("transfer_id", transferID),
		slog.String("item_id", itemID),
	)

	return itemID, nil
}

// normalizeChunkSize rounds the configured chunk size down to the protocol
// alignment, flooring at one alignment unit.
func normalizeChunkSize(configured int64) int64 {
	if configured <= 0 {
		return DefaultChunkSize
	}

	aligned := configured - configured%ChunkAlignment
	if aligned < ChunkAlignment {
		return ChunkAlignment
	}

	return aligned
}

type uploadSession struct {
	UploadURL string `json:"uploadUrl"`
}

// createUploadSession requests a server-side upload session for the
// destination path. The returned upload URL is pre-authenticated and
// accepts chunk PUTs without a bearer token.
func (c *Client) createUploadSession(
	ctx context.Context, name, parentID string, onConflict ConflictBehavior, info os.FileInfo,
) (*uploadSession, error) {
	path := "root:/"
	if parentID != "" {
		path = "items/" + parentID + ":/"
	}

	path += escapePath(name) + ":/createUploadSession"

	created, modified := localFileTimes(info, c.logger)

	body, err := json.Marshal(map[string]any{
		"item": map[string]any{
			"@microsoft.graph.conflictBehavior": string(onConflict),
			"name":                              name,
			"fileSystemInfo": map[string]string{
				"createdDateTime":      created,
				"lastModifiedDateTime": modified,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	resp, err := c.do(ctx, c.http, http.MethodPost, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	const op = "upload session could not be created"
	if err := checkStatus(resp, ErrTransfer, op, http.StatusOK); err != nil {
		return nil, err
	}

	var session uploadSession
	if err := decodeJSON(resp, ErrTransfer, op, &session); err != nil {
		return nil, err
	}

	if session.UploadURL == "" {
		return nil, &APIError{
			Op:         op,
			Reason:     "response did not contain an upload URL",
			StatusCode: resp.StatusCode,
			Kind:       ErrTransfer,
		}
	}

	return &session, nil
}

// localFileTimes formats the file's creation and modification timestamps
// as UTC RFC 3339 strings. Creation time is unavailable on some platforms
// (notably Linux); the modification time is substituted there.
func localFileTimes(info os.FileInfo, logger *slog.Logger) (created, modified string) {
	mtime := info.ModTime()

	ctime, ok := fileCreationTime(info)
	if !ok {
		logger.Debug("file creation time unavailable on this platform, using modification time")

		ctime = mtime
	}

	format := func(t time.Time) string {
		return t.UTC().Truncate(time.Second).Format(time.RFC3339)
	}

	return format(ctime), format(mtime)
}

// uploadChunks streams the file to the session URL in strictly increasing
// byte ranges, one chunk at a time as the protocol requires. On any
// failure the session is deleted server-side before the error propagates;
// operator cancellation is surfaced as a distinct outcome.
func (c *Client) uploadChunks(
	ctx context.Context, session *uploadSession, f *os.File,
	size, chunkSize int64, chunks int, progress ProgressFunc,
) (string, error) {
	var bytesSent int64

	for i := 0; i < chunks; i++ {
		start := int64(i) * chunkSize

		end := start + chunkSize - 1

		last := i == chunks-1
		if last {
			end = size - 1
		}

		length := end - start + 1

		c.logger.Debug("uploading chunk",
			slog.Int("chunk", i+1),
			slog.Int("chunks", chunks),
			slog.Int64("start", start),
			slog.Int64("end", end),
		)

		resp, err := c.putChunk(ctx, session.UploadURL, io.NewSectionReader(f, start, length), start, end, size, length)
		if err != nil {
			c.cancelUploadSession(session)

			if ctxErr := ctx.Err(); ctxErr != nil {
				c.logger.Warn("upload cancelled, session deleted", slog.Int("chunks_sent", i))

				return "", fmt.Errorf("graph: upload cancelled after %d of %d chunks: %w",
					i, chunks, errors.Join(ErrCancelled, ctxErr))
			}

			return "", fmt.Errorf("graph: uploading chunk %d of %d: %w", i+1, chunks, err)
		}

		if !last {
			err = checkStatus(resp, ErrTransfer,
				fmt.Sprintf("could not upload chunk %d of %d", i+1, chunks), http.StatusAccepted)
			if err == nil {
				// Drain so the connection can be reused.
				_, err = io.Copy(io.Discard, resp.Body)
			}

			resp.Body.Close()

			if err != nil {
				c.cancelUploadSession(session)

				return "", err
			}

			bytesSent += length
			if progress != nil {
				progress(bytesSent, size)
			}

			continue
		}

		// Final chunk: the response carries the created item.
		const op = "item not uploaded"

		var ir itemResponse

		err = checkStatus(resp, ErrTransfer, op, http.StatusOK, http.StatusCreated)
		if err == nil {
			err = decodeJSON(resp, ErrTransfer, op, &ir)
		}

		resp.Body.Close()

		if err != nil {
			c.cancelUploadSession(session)

			return "", err
		}

		bytesSent += length
		if progress != nil {
			progress(bytesSent, size)
		}

		return ir.ID, nil
	}

	// Unreachable: chunks >= 1 because zero-byte files are rejected.
	return "", fmt.Errorf("graph: no chunks uploaded")
}

// putChunk PUTs one byte range to the session URL. The URL is
// pre-authenticated, so no bearer token is attached.
func (c *Client) putChunk(
	ctx context.Context, uploadURL string, chunk io.Reader,
	start, end, total, length int64,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, chunk)
	if err != nil {
		return nil, fmt.Errorf("creating chunk request: %w", err)
	}

	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)
	req.ContentLength = length

	return c.transfer.Do(req)
}

// cancelUploadSession deletes the upload session server-side so no
// orphaned partial upload remains. Runs on a fresh context because the
// operation's context may already be cancelled; failures are logged, not
// propagated, since the caller is already unwinding an error.
func (c *Client) cancelUploadSession(session *uploadSession) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, session.UploadURL, nil)
	if err != nil {
		c.logger.Warn("creating session cancel request failed", slog.String("error", err.Error()))

		return
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.transfer.Do(req)
	if err != nil {
		c.logger.Warn("upload session cancel request failed", slog.String("error", err.Error()))

		return
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		c.logger.Warn("draining session cancel response failed", slog.String("error", err.Error()))

		return
	}

	c.logger.Debug("upload session deleted", slog.Int("status", resp.StatusCode))
}
