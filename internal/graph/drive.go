package graph

import (
	"context"
	"log/slog"
	"net/http"
)

// DriveInfo holds the connected drive's identity and quota, cached on the
// client after the first fetch.
type DriveInfo struct {
	ID             string
	Name           string
	Type           string // "personal", "business", or "sharepoint"
	OwnerID        string
	OwnerEmail     string
	OwnerName      string
	QuotaUsed      int64
	QuotaRemaining int64
	QuotaTotal     int64
}

type driveResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DriveType string `json:"driveType"`
	Owner     struct {
		User struct {
			ID          string `json:"id"`
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"owner"`
	Quota struct {
		Used      int64 `json:"used"`
		Remaining int64 `json:"remaining"`
		Total     int64 `json:"total"`
	} `json:"quota"`
}

// DriveDetails returns the drive's details, fetching them from the API on
// first call or when refresh is set.
func (c *Client) DriveDetails(ctx context.Context, refresh bool) (*DriveInfo, error) {
	if c.drive != nil && !refresh {
		return c.drive, nil
	}

	resp, err := c.do(ctx, c.http, http.MethodGet, "", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	const op = "could not get drive details"
	if err := checkStatus(resp, ErrTransfer, op, http.StatusOK); err != nil {
		return nil, err
	}

	var dr driveResponse
	if err := decodeJSON(resp, ErrTransfer, op, &dr); err != nil {
		return nil, err
	}

	c.drive = &DriveInfo{
		ID:             dr.ID,
		Name:           dr.Name,
		Type:           dr.DriveType,
		OwnerID:        dr.Owner.User.ID,
		OwnerEmail:     dr.Owner.User.Email,
		OwnerName:      dr.Owner.User.DisplayName,
		QuotaUsed:      dr.Quota.Used,
		QuotaRemaining: dr.Quota.Remaining,
		QuotaTotal:     dr.Quota.Total,
	}

	c.logger.Debug("drive details fetched",
		slog.String("drive_id", c.drive.ID),
		slog.String("drive_type", c.drive.Type),
	)

	return c.drive, nil
}

// Usage reports the drive's used and total storage converted to the
// requested unit ("b", "kb", "mb", or "gb").
func (c *Client) Usage(ctx context.Context, unit string, refresh bool) (used, capacity float64, err error) {
	divisor := float64(1)

	switch unit {
	case "b":
	case "kb":
		divisor = 1 << 10
	case "mb":
		divisor = 1 << 20
	case "gb":
		divisor = 1 << 30
	default:
		return 0, 0, usageError("%q is not a supported unit", unit)
	}

	info, err := c.DriveDetails(ctx, refresh)
	if err != nil {
		return 0, 0, err
	}

	return float64(info.QuotaUsed) / divisor, float64(info.QuotaTotal) / divisor, nil
}
