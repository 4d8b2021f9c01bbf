package conf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/codeclash/proctor/logger"
)

// SettingsClient fetches contest settings from the contest backend.
type SettingsClient struct {
	baseURL string
	http    *http.Client
}

func NewSettingsClient(baseURL string) *SettingsClient {
	return &SettingsClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type settingsResponse struct {
	Success  bool            `json:"success"`
	Settings ContestSettings `json:"settings"`
}

// Fetch returns the settings for the given contest. On any failure it logs
// and returns PermissiveDefaults together with the underlying error so the
// caller can record that the fallback was applied. The returned settings are
// always usable.
func (c *SettingsClient) Fetch(ctx context.Context, contestID string) (ContestSettings, error) {
	log := logger.FromContext(ctx)

	url := fmt.Sprintf("%s/api/contests/%s/settings", c.baseURL, contestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PermissiveDefaults(), fmt.Errorf("failed to build settings request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("settings fetch failed, applying permissive defaults", "error", err)
		return PermissiveDefaults(), fmt.Errorf("failed to fetch contest settings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("settings fetch returned non-200, applying permissive defaults",
			"status", resp.StatusCode)
		return PermissiveDefaults(), fmt.Errorf("settings fetch returned status %d", resp.StatusCode)
	}

	var body settingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Warn("settings fetch returned malformed body, applying permissive defaults", "error", err)
		return PermissiveDefaults(), fmt.Errorf("failed to decode contest settings: %w", err)
	}
	if !body.Success {
		log.Warn("settings fetch reported failure, applying permissive defaults")
		return PermissiveDefaults(), fmt.Errorf("backend reported settings fetch failure")
	}

	return body.Settings, nil
}
