package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/hay-kot/databus/internal/core/config"
	"github.com/hay-kot/databus/internal/provider"
)

// EndpointCheck fetches every configured provider's api_url once.
type EndpointCheck struct {
	config  *config.Config
	fetcher provider.Fetcher
	timeout time.Duration
}

// NewEndpointCheck creates a new provider endpoint check.
func NewEndpointCheck(cfg *config.Config, fetcher provider.Fetcher, timeout time.Duration) *EndpointCheck {
	return &EndpointCheck{config: cfg, fetcher: fetcher, timeout: timeout}
}

func (c *EndpointCheck) networked() {}

func (c *EndpointCheck) Name() string {
	return "Provider Endpoints"
}

func (c *EndpointCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if c.config == nil || len(c.config.Providers) == 0 {
		result.Items = append(result.Items, Item{
			Label:  "Providers",
			Status: StatusWarn,
			Detail: "no providers configured",
		})
		return result
	}

	for _, p := range c.config.Providers {
		label := p.Channel(c.config.Namespace).Base()

		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		items, err := c.fetcher.Fetch(fetchCtx, p.APIURL)
		cancel()

		if err != nil {
			result.Items = append(result.Items, Item{
				Label:  label,
				Status: StatusFail,
				Detail: err.Error(),
			})
			continue
		}

		result.Items = append(result.Items, Item{
			Label:  label,
			Status: StatusPass,
			Detail: fmt.Sprintf("%d item(s) from %s", len(items), p.APIURL),
		})
	}

	return result
}
