package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/pam/internal/storage"
)

// SearchResults is the data returned by searchUserData.
type SearchResults struct {
	Query string              `json:"query"`
	Scope string              `json:"scope"`
	Hits  []storage.SearchHit `json:"hits"`
	Count int                 `json:"count"`
}

// SearchOptions are the normalised searchUserData arguments.
type SearchOptions struct {
	Query string
	Scope string
	Limit int
}

// Search runs free-text queries across the user's records.
type Search struct {
	store  storage.Store
	logger *slog.Logger
}

// NewSearch creates the search handler.
func NewSearch(store storage.Store, logger *slog.Logger) *Search {
	return &Search{store: store, logger: loggerOrDefault(logger)}
}

// Query searches expenses, trips and income within the requested scope.
func (s *Search) Query(ctx context.Context, userID string, opts SearchOptions) Result {
	scope := opts.Scope
	if scope == "" {
		scope = string(storage.ScopeAll)
	}
	query := strings.TrimSpace(opts.Query)
	hits, err := s.store.Search(ctx, userID, storage.SearchQuery{
		Text:  query,
		Scope: storage.SearchScope(scope),
		Limit: ClampLimit(opts.Limit, DefaultSearchLimit, MaxSearchLimit),
	})
	if err != nil {
		return storeFailure(s.logger, "search", userID, err,
			"I couldn't search your data right now. Please try again.")
	}
	if hits == nil {
		hits = []storage.SearchHit{}
	}
	return OK(SearchResults{Query: query, Scope: scope, Hits: hits, Count: len(hits)})
}
