// Package storage provides read access to a user's travel and finance records.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Expense is a single recorded expense.
type Expense struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Category    string    `json:"category"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
	Description string    `json:"description,omitempty"`
}

// Budget is a spending limit for one category.
type Budget struct {
	ID       string  `json:"id"`
	UserID   string  `json:"user_id"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
	Period   string  `json:"period,omitempty"`
}

// Income is a single income entry.
type Income struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Source      string    `json:"source"`
	Type        string    `json:"type"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
	Description string    `json:"description,omitempty"`
}

// FuelPurchase is a single fill-up.
type FuelPurchase struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Date     time.Time `json:"date"`
	Volume   float64   `json:"volume"`
	Cost     float64   `json:"cost"`
	Station  string    `json:"station,omitempty"`
	Odometer float64   `json:"odometer,omitempty"`
}

// Trip is a planned or completed journey.
type Trip struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Origin      string     `json:"origin,omitempty"`
	Destination string     `json:"destination,omitempty"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Distance    float64    `json:"distance,omitempty"`
	Budget      float64    `json:"budget,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Vehicle is a vehicle registered to a user.
type Vehicle struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Make     string `json:"make,omitempty"`
	Model    string `json:"model,omitempty"`
	Year     int    `json:"year,omitempty"`
	FuelType string `json:"fuel_type,omitempty"`
}

// Profile holds a user's identity and travel preferences.
type Profile struct {
	UserID      string    `json:"user_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email,omitempty"`
	Region      string    `json:"region,omitempty"`
	TravelStyle string    `json:"travel_style,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DateRange bounds a query by inclusive calendar dates. Nil means open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t falls inside the range, comparing by day.
func (r DateRange) Contains(t time.Time) bool {
	day := truncateDay(t)
	if r.From != nil && day.Before(truncateDay(*r.From)) {
		return false
	}
	if r.To != nil && day.After(truncateDay(*r.To)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ExpenseFilter narrows ListExpenses. Zero values mean "no filter";
// Limit <= 0 means unlimited.
type ExpenseFilter struct {
	Category  string
	Range     DateRange
	MinAmount *float64
	MaxAmount *float64
	Limit     int
}

// IncomeFilter narrows ListIncome.
type IncomeFilter struct {
	Type  string
	Range DateRange
	Limit int
}

// FuelFilter narrows ListFuel.
type FuelFilter struct {
	Range DateRange
	Limit int
}

// TripFilter narrows ListTrips.
type TripFilter struct {
	Status string
	Range  DateRange
	Limit  int
}

// SearchScope selects which record kinds Search looks at.
type SearchScope string

const (
	ScopeAll      SearchScope = "all"
	ScopeExpenses SearchScope = "expenses"
	ScopeTrips    SearchScope = "trips"
	ScopeIncome   SearchScope = "income"
)

// Includes reports whether the scope covers kind.
func (s SearchScope) Includes(kind SearchScope) bool {
	return s == "" || s == ScopeAll || s == kind
}

// SearchHit is one matching record from Search.
type SearchHit struct {
	Kind   SearchScope `json:"kind"`
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Amount float64     `json:"amount,omitempty"`
	Date   time.Time   `json:"date"`
}

// SearchQuery is a case-insensitive substring search across record kinds.
type SearchQuery struct {
	Text  string
	Scope SearchScope
	Limit int
}

// Store is the read surface used by the domain handlers. Results are
// ordered newest first and scoped to the given user.
type Store interface {
	ListExpenses(ctx context.Context, userID string, filter ExpenseFilter) ([]Expense, error)
	ListBudgets(ctx context.Context, userID, category string) ([]Budget, error)
	SpentByCategory(ctx context.Context, userID string) (map[string]float64, error)
	ListIncome(ctx context.Context, userID string, filter IncomeFilter) ([]Income, error)
	ListFuel(ctx context.Context, userID string, filter FuelFilter) ([]FuelPurchase, error)
	ListTrips(ctx context.Context, userID string, filter TripFilter) ([]Trip, error)
	GetTrip(ctx context.Context, userID, tripID string) (*Trip, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	ListVehicles(ctx context.Context, userID string) ([]Vehicle, error)
	Search(ctx context.Context, userID string, query SearchQuery) ([]SearchHit, error)
	Close() error
}
