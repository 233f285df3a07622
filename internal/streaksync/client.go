// Package streaksync fetches the server-authoritative streak row.
package streaksync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pharm-prep/backend/internal/models"
)

// ErrMalformedStatus is returned when the RPC answer lacks required fields or
// carries values outside their domain.
var ErrMalformedStatus = errors.New("streaksync: malformed streak status")

// ClientConfig holds the RPC endpoint configuration.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// Token mints the bearer token sent for userID. Optional.
	Token func(userID int64) (string, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func(userID int64) (string, error)
	now        func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		token:      cfg.Token,
		now:        time.Now,
	}
}

// statusDTO is the raw RPC row. Every field is optional on the wire.
type statusDTO struct {
	StreakCurrent *int     `json:"streak_current"`
	StreakLongest *int     `json:"streak_longest"`
	StreakLastDay *string  `json:"streak_last_day"`
	Status        *string  `json:"status"`
	SecondsLeft   *float64 `json:"seconds_left"`
	DeadlineAt    *string  `json:"deadline_at"`
}

// FetchStreakStatus calls the get_streak_status RPC for userID.
func (c *Client) FetchStreakStatus(ctx context.Context, userID int64) (models.ServerStreakStatus, error) {
	body, err := json.Marshal(map[string]int64{"user_id": userID})
	if err != nil {
		return models.ServerStreakStatus{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/get_streak_status", bytes.NewReader(body))
	if err != nil {
		return models.ServerStreakStatus{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		tok, err := c.token(userID)
		if err != nil {
			return models.ServerStreakStatus{}, fmt.Errorf("streak status token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ServerStreakStatus{}, fmt.Errorf("streak status request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.ServerStreakStatus{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return models.ServerStreakStatus{}, fmt.Errorf("streak status: api error %d", resp.StatusCode)
	}

	dto, err := decodeRow(raw)
	if err != nil {
		return models.ServerStreakStatus{}, err
	}
	return dto.validate(c.now().UTC())
}

// decodeRow accepts either a single object or a one-row array.
func decodeRow(raw []byte) (statusDTO, error) {
	var dto statusDTO
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []statusDTO
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return dto, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
		}
		if len(rows) == 0 {
			return dto, fmt.Errorf("%w: empty result", ErrMalformedStatus)
		}
		return rows[0], nil
	}
	if err := json.Unmarshal(trimmed, &dto); err != nil {
		return dto, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	return dto, nil
}

func (d statusDTO) validate(now time.Time) (models.ServerStreakStatus, error) {
	if d.StreakCurrent == nil || *d.StreakCurrent < 0 {
		return models.ServerStreakStatus{}, fmt.Errorf("%w: streak_current missing or negative", ErrMalformedStatus)
	}
	if d.Status == nil {
		return models.ServerStreakStatus{}, fmt.Errorf("%w: status missing", ErrMalformedStatus)
	}
	st := models.StreakServerState(*d.Status)
	switch st {
	case models.StreakExtended, models.StreakAtRisk, models.StreakLost:
	default:
		return models.ServerStreakStatus{}, fmt.Errorf("%w: unknown status %q", ErrMalformedStatus, *d.Status)
	}

	out := models.ServerStreakStatus{
		StreakCurrent: *d.StreakCurrent,
		Status:        st,
		FetchedAt:     now,
	}
	if d.StreakLongest != nil && *d.StreakLongest >= out.StreakCurrent {
		out.StreakLongest = *d.StreakLongest
	} else {
		out.StreakLongest = out.StreakCurrent
	}
	if d.StreakLastDay != nil {
		if _, err := time.Parse("2006-01-02", *d.StreakLastDay); err == nil {
			out.StreakLastDay = *d.StreakLastDay
		}
	}
	if d.SecondsLeft != nil && *d.SecondsLeft > 0 {
		out.SecondsLeft = int64(*d.SecondsLeft)
	}
	if d.DeadlineAt != nil {
		if t, err := time.Parse(time.RFC3339, *d.DeadlineAt); err == nil {
			out.DeadlineAt = t.UTC()
		}
	}
	if out.DeadlineAt.IsZero() && out.SecondsLeft > 0 {
		out.DeadlineAt = now.Add(time.Duration(out.SecondsLeft) * time.Second)
	}
	return out, nil
}
