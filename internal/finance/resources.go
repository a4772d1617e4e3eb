package finance

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Aidin1998/finsync/internal/cache"
	"github.com/Aidin1998/finsync/internal/scheduler"
	"github.com/Aidin1998/finsync/internal/syncbus"
)

func (c *Client) AccountSummary(ctx context.Context) (AccountSummary, error) {
	return get[AccountSummary](ctx, c, scheduler.PriorityCritical, GroupAccountSummary, "/accounts/summary")
}

func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	return get[Dashboard](ctx, c, scheduler.PriorityCritical, GroupDashboard, "/dashboard")
}

func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	return get[[]Account](ctx, c, scheduler.PriorityHigh, GroupAccounts, "/accounts")
}

func (c *Client) Account(ctx context.Context, id string) (Account, error) {
	return get[Account](ctx, c, scheduler.PriorityHigh, cache.GroupKey(GroupAccounts, id), "/accounts/"+url.PathEscape(id))
}

// Transactions lists the transactions of one account, cached as a member of
// the transactions group.
func (c *Client) Transactions(ctx context.Context, accountID string) ([]Transaction, error) {
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions"
	return get[[]Transaction](ctx, c, scheduler.PriorityMedium, cache.GroupKey(GroupTransactions, accountID), path)
}

func (c *Client) Budgets(ctx context.Context) ([]Budget, error) {
	return get[[]Budget](ctx, c, scheduler.PriorityMedium, GroupBudgets, "/budgets")
}

func (c *Client) BudgetProgress(ctx context.Context) ([]BudgetProgress, error) {
	return get[[]BudgetProgress](ctx, c, scheduler.PriorityMedium, GroupBudgetProgress, "/budgets/progress")
}

func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	return get[[]Category](ctx, c, scheduler.PriorityLow, GroupCategories, "/categories")
}

func (c *Client) Trips(ctx context.Context) ([]Trip, error) {
	return get[[]Trip](ctx, c, scheduler.PriorityLow, GroupTrips, "/trips")
}

func (c *Client) Itinerary(ctx context.Context, tripID string) ([]ItineraryItem, error) {
	path := "/trips/" + url.PathEscape(tripID) + "/itinerary"
	return get[[]ItineraryItem](ctx, c, scheduler.PriorityLow, cache.GroupKey(GroupItineraries, tripID), path)
}

func (c *Client) CreateAccount(ctx context.Context, a Account) (Account, error) {
	a.Name = c.validator.Sanitize(a.Name)
	if err := c.validator.ValidateStruct(a); err != nil {
		return Account{}, err
	}
	return write(ctx, c, http.MethodPost, "/accounts", a, syncbus.EntityAccount, syncbus.ActionCreate,
		func(out Account) string { return out.ID })
}

func (c *Client) CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	tx.Description = c.validator.Sanitize(tx.Description)
	if err := c.validator.ValidateStruct(tx); err != nil {
		return Transaction{}, err
	}
	return write(ctx, c, http.MethodPost, "/transactions", tx, syncbus.EntityTransaction, syncbus.ActionCreate,
		func(out Transaction) string { return out.ID })
}

func (c *Client) UpdateTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	tx.Description = c.validator.Sanitize(tx.Description)
	if err := c.validator.ValidateStruct(tx); err != nil {
		return Transaction{}, err
	}
	return write(ctx, c, http.MethodPut, "/transactions/"+url.PathEscape(tx.ID), tx, syncbus.EntityTransaction, syncbus.ActionUpdate,
		func(out Transaction) string { return out.ID })
}

func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	_, err := write(ctx, c, http.MethodDelete, "/transactions/"+url.PathEscape(id), nil, syncbus.EntityTransaction, syncbus.ActionDelete,
		func(struct{}) string { return id })
	return err
}

// ImportTransactions posts a batch of transactions. A bulk import touches
// every resource group, so it publishes a bulk operation event.
func (c *Client) ImportTransactions(ctx context.Context, txs []Transaction) (int, error) {
	for i := range txs {
		txs[i].Description = c.validator.Sanitize(txs[i].Description)
		if err := c.validator.ValidateStruct(txs[i]); err != nil {
			return 0, err
		}
	}
	type result struct {
		Imported int `json:"imported"`
	}
	res, err := write(ctx, c, http.MethodPost, "/transactions/import", txs, syncbus.EntityBulkOperation, syncbus.ActionCreate,
		func(result) string { return "" })
	return res.Imported, err
}

func (c *Client) UpsertBudget(ctx context.Context, b Budget) (Budget, error) {
	b.Name = c.validator.Sanitize(b.Name)
	if err := c.validator.ValidateStruct(b); err != nil {
		return Budget{}, err
	}
	method, path, action := http.MethodPost, "/budgets", syncbus.ActionCreate
	if b.ID != "" {
		method, path, action = http.MethodPut, "/budgets/"+url.PathEscape(b.ID), syncbus.ActionUpdate
	}
	return write(ctx, c, method, path, b, syncbus.EntityBudget, action,
		func(out Budget) string { return out.ID })
}

func (c *Client) CreateCategory(ctx context.Context, cat Category) (Category, error) {
	cat.Name = c.validator.Sanitize(cat.Name)
	if err := c.validator.ValidateStruct(cat); err != nil {
		return Category{}, err
	}
	return write(ctx, c, http.MethodPost, "/categories", cat, syncbus.EntityCategory, syncbus.ActionCreate,
		func(out Category) string { return out.ID })
}

func (c *Client) CreateTrip(ctx context.Context, t Trip) (Trip, error) {
	t.Name = c.validator.Sanitize(t.Name)
	if err := c.validator.ValidateStruct(t); err != nil {
		return Trip{}, err
	}
	return write(ctx, c, http.MethodPost, "/trips", t, syncbus.EntityTrip, syncbus.ActionCreate,
		func(out Trip) string { return out.ID })
}

func (c *Client) AddItineraryItem(ctx context.Context, item ItineraryItem) (ItineraryItem, error) {
	item.Title = c.validator.Sanitize(item.Title)
	if err := c.validator.ValidateStruct(item); err != nil {
		return ItineraryItem{}, err
	}
	path := "/trips/" + url.PathEscape(item.TripID) + "/itinerary"
	return write(ctx, c, http.MethodPost, path, item, syncbus.EntityItinerary, syncbus.ActionCreate,
		func(out ItineraryItem) string { return out.ID })
}
