// Package finance is the typed client of the personal-finance backend. Reads
// go through the request scheduler with cache keys named after the resource
// groups they belong to; writes publish a sync event once the backend
// accepts them.
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resource groups, as used for cache keys and by the sync dependency graph.
const (
	GroupAccounts       = "accounts"
	GroupAccountSummary = "account-summary"
	GroupDashboard      = "dashboard"
	GroupTransactions   = "transactions"
	GroupBudgets        = "budgets"
	GroupBudgetProgress = "budget-progress"
	GroupCategories     = "categories"
	GroupTrips          = "trips"
	GroupItineraries    = "itineraries"
)

type Account struct {
	ID        string          `json:"id"`
	Name      string          `json:"name" validate:"required,max=80,secure_string"`
	Kind      string          `json:"kind" validate:"required,oneof=checking savings credit cash investment"`
	Currency  string          `json:"currency" validate:"required,currency_code"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id" validate:"required"`
	CategoryID  string          `json:"category_id,omitempty"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Currency    string          `json:"currency" validate:"required,currency_code"`
	Description string          `json:"description,omitempty" validate:"max=200,secure_string"`
	BookedAt    time.Time       `json:"booked_at" validate:"required"`
}

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name" validate:"required,max=60,secure_string"`
	ParentID string `json:"parent_id,omitempty"`
}

type Budget struct {
	ID         string          `json:"id"`
	CategoryID string          `json:"category_id" validate:"required"`
	Name       string          `json:"name" validate:"required,max=80,secure_string"`
	Limit      decimal.Decimal `json:"limit" validate:"gt=0"`
	Currency   string          `json:"currency" validate:"required,currency_code"`
	Period     string          `json:"period" validate:"required,oneof=weekly monthly yearly"`
}

type BudgetProgress struct {
	BudgetID  string          `json:"budget_id"`
	Limit     decimal.Decimal `json:"limit"`
	Spent     decimal.Decimal `json:"spent"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Exceeded reports whether spending went over the limit.
func (p BudgetProgress) Exceeded() bool {
	return p.Spent.GreaterThan(p.Limit)
}

type Trip struct {
	ID        string          `json:"id"`
	Name      string          `json:"name" validate:"required,max=80,secure_string"`
	StartDate time.Time       `json:"start_date" validate:"required"`
	EndDate   time.Time       `json:"end_date" validate:"required,gtefield=StartDate"`
	Budget    decimal.Decimal `json:"budget" validate:"gte=0"`
	Currency  string          `json:"currency" validate:"required,currency_code"`
}

type ItineraryItem struct {
	ID     string          `json:"id"`
	TripID string          `json:"trip_id" validate:"required"`
	Title  string          `json:"title" validate:"required,max=120,secure_string"`
	Date   time.Time       `json:"date" validate:"required"`
	Cost   decimal.Decimal `json:"cost" validate:"gte=0"`
}

type AccountSummary struct {
	NetWorth   decimal.Decimal            `json:"net_worth"`
	Accounts   int                        `json:"accounts"`
	ByCurrency map[string]decimal.Decimal `json:"by_currency"`
	AsOf       time.Time                  `json:"as_of"`
}

type Dashboard struct {
	Summary            AccountSummary   `json:"summary"`
	RecentTransactions []Transaction    `json:"recent_transactions"`
	Budgets            []BudgetProgress `json:"budgets"`
	UpcomingTrips      []Trip           `json:"upcoming_trips"`
}
