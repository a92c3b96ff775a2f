package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jordanhubbard/mend/pkg/models"
)

// healthPayload is the remote endpoint's wire shape. schema_version is
// optional; version 0 payloads predate the field. Unknown component
// keys are ignored so the contract can grow without breaking us.
type healthPayload struct {
	SchemaVersion int               `json:"schema_version"`
	Status        string            `json:"status"`
	Health        string            `json:"health"`
	Components    map[string]string `json:"components"`
	Errors        []string          `json:"errors"`
}

// CheckDeploymentHealth waits for the deployment to stabilize, then
// polls the configured health endpoint at a fixed interval up to the
// configured attempt cap, returning on the first healthy probe. When
// the cap is exhausted the last probe is returned with a timeout error
// appended.
func (r *Rollback) CheckDeploymentHealth(ctx context.Context, wait time.Duration) *models.DeploymentHealth {
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return &models.DeploymentHealth{
				IsHealthy: false,
				Errors:    []string{fmt.Sprintf("health check cancelled: %v", ctx.Err())},
				CheckedAt: time.Now(),
			}
		}
	}

	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxPolls := r.cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 60
	}

	var health *models.DeploymentHealth
	for attempt := 1; attempt <= maxPolls; attempt++ {
		health = r.probeHealth(ctx)
		if health.IsHealthy {
			return health
		}
		if attempt == maxPolls {
			break
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			health.Errors = append(health.Errors, fmt.Sprintf("health polling cancelled: %v", ctx.Err()))
			return health
		}
	}

	health.Errors = append(health.Errors,
		fmt.Sprintf("deployment did not become healthy within %d probes at %v intervals", maxPolls, interval))
	return health
}

// probeHealth runs a single probe. Healthy requires API reachability,
// explicit healthy flags for the service and its database, and zero
// collected errors.
func (r *Rollback) probeHealth(ctx context.Context) *models.DeploymentHealth {
	health := &models.DeploymentHealth{CheckedAt: time.Now()}

	payload, err := r.fetchHealth(ctx)
	if err != nil {
		health.Errors = append(health.Errors, err.Error())
		return health
	}
	health.APIReachable = true

	health.Components = decodeComponents(payload)
	health.Errors = append(health.Errors, payload.Errors...)

	health.IsHealthy = health.APIReachable &&
		health.Components.Service == "healthy" &&
		health.Components.Database == "healthy" &&
		len(health.Errors) == 0
	return health
}

func (r *Rollback) fetchHealth(ctx context.Context) (*healthPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.HealthEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read health response: %w", err)
	}

	var payload healthPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("malformed health response: %w", err)
	}
	return &payload, nil
}

// decodeComponents normalizes payload variants. A missing service flag
// falls back to the top-level status, which older payloads use as the
// overall service signal; a missing database flag is not assumed
// healthy.
func decodeComponents(p *healthPayload) models.ComponentHealth {
	c := models.ComponentHealth{}

	if v, ok := p.Components["service"]; ok {
		c.Service = v
	} else if v, ok := p.Components["api"]; ok {
		c.Service = v
	} else if p.Status != "" {
		c.Service = p.Status
	} else {
		c.Service = p.Health
	}

	if v, ok := p.Components["database"]; ok {
		c.Database = v
	} else {
		c.Database = "unknown"
	}
	return c
}
