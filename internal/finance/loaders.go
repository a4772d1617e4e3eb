package finance

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Aidin1998/finsync/internal/cache"
)

// groupPaths maps each resource group to the endpoint that lists it.
var groupPaths = map[string]string{
	GroupAccounts:       "/accounts",
	GroupAccountSummary: "/accounts/summary",
	GroupDashboard:      "/dashboard",
	GroupTransactions:   "/transactions",
	GroupBudgets:        "/budgets",
	GroupBudgetProgress: "/budgets/progress",
	GroupCategories:     "/categories",
	GroupTrips:          "/trips",
	GroupItineraries:    "/itineraries",
}

// Loader returns the cache loader of group. It calls the backend directly;
// the query cache runs it through the scheduler. Values are kept as raw JSON
// so typed reads of the same key decode them.
func (c *Client) Loader(group string) cache.Loader {
	return cache.LoaderFunc(func(ctx context.Context, group string) (interface{}, error) {
		path, ok := groupPaths[group]
		if !ok {
			return nil, ErrNotFound
		}
		var out json.RawMessage
		if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// RegisterLoaders attaches a loader for every resource group to q.
func (c *Client) RegisterLoaders(q *cache.QueryCache, ttl time.Duration) {
	for group := range groupPaths {
		q.Register(group, c.Loader(group), ttl)
	}
}
