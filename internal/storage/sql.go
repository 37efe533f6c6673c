package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	_ "github.com/lib/pq"   // Postgres / CockroachDB driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLStore reads user records from Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL opens and pings a SQL store for the given driver and DSN.
func OpenSQL(driver, dsn string, config *SQLConfig) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultSQLConfig()
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewSQLStore(db, dialect), nil
}

// NewSQLStore wraps an existing connection pool.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	if dialect == nil {
		dialect = postgresDialect{}
	}
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the pool so other components (the usage sink) can share it.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the store's SQL dialect.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Close closes the underlying pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the tables read by the store when they do not exist.
// It is intended for local SQLite databases and tests.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, category TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL, date DATE NOT NULL, description TEXT NOT NULL DEFAULT '')`,
	`CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, category TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL, period TEXT NOT NULL DEFAULT 'monthly')`,
	`CREATE TABLE IF NOT EXISTS income_entries (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, source TEXT NOT NULL, type TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL, date DATE NOT NULL, description TEXT NOT NULL DEFAULT '')`,
	`CREATE TABLE IF NOT EXISTS fuel_log (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, date DATE NOT NULL, volume DOUBLE PRECISION NOT NULL,
		cost DOUBLE PRECISION NOT NULL, station TEXT NOT NULL DEFAULT '', odometer DOUBLE PRECISION NOT NULL DEFAULT 0)`,
	`CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, name TEXT NOT NULL, status TEXT NOT NULL,
		origin TEXT NOT NULL DEFAULT '', destination TEXT NOT NULL DEFAULT '', start_date DATE NOT NULL,
		end_date DATE, distance DOUBLE PRECISION NOT NULL DEFAULT 0, budget DOUBLE PRECISION NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '')`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY, full_name TEXT NOT NULL, email TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '', travel_style TEXT NOT NULL DEFAULT '', currency TEXT NOT NULL DEFAULT 'USD',
		created_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, name TEXT NOT NULL, make TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '', year INTEGER NOT NULL DEFAULT 0, fuel_type TEXT NOT NULL DEFAULT '')`,
}

// query accumulates WHERE clauses with ? placeholders.
type query struct {
	where []string
	args  []any
}

func newQuery(userID string) *query {
	return &query{where: []string{"user_id = ?"}, args: []any{userID}}
}

func (q *query) add(clause string, arg any) {
	q.where = append(q.where, clause)
	q.args = append(q.args, arg)
}

func (q *query) dateRange(column string, r DateRange) {
	if r.From != nil {
		q.add(column+" >= ?", truncateDay(*r.From))
	}
	if r.To != nil {
		q.add(column+" < ?", truncateDay(*r.To).AddDate(0, 0, 1))
	}
}

func (q *query) build(selectFrom, orderBy string, limit int) string {
	var b strings.Builder
	b.WriteString(selectFrom)
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(q.where, " AND "))
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		q.args = append(q.args, limit)
	}
	return b.String()
}

func (s *SQLStore) ListExpenses(ctx context.Context, userID string, filter ExpenseFilter) ([]Expense, error) {
	q := newQuery(userID)
	if filter.Category != "" {
		q.add("LOWER(category) = LOWER(?)", filter.Category)
	}
	q.dateRange("date", filter.Range)
	if filter.MinAmount != nil {
		q.add("amount >= ?", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		q.add("amount <= ?", *filter.MaxAmount)
	}
	stmt := q.build("SELECT id, user_id, category, amount, date, description FROM expenses", "date DESC, id", filter.Limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(stmt), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.UserID, &e.Category, &e.Amount, &e.Date, &e.Description); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListBudgets(ctx context.Context, userID, category string) ([]Budget, error) {
	q := newQuery(userID)
	if category != "" {
		q.add("LOWER(category) = LOWER(?)", category)
	}
	stmt := q.build("SELECT id, user_id, category, amount, period FROM budgets", "category", 0)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(stmt), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []Budget
	for rows.Next() {
		var b Budget
		if err := rows.Scan(&b.ID, &b.UserID, &b.Category, &b.Amount, &b.Period); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budgets: %w", err)
	}
	return out, nil
}

func (s *SQLStore) SpentByCategory(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind("SELECT LOWER(category), SUM(amount) FROM expenses WHERE user_id = ? GROUP BY LOWER(category)"),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sum expenses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var category string
		var total float64
		if err := rows.Scan(&category, &total); err != nil {
			return nil, fmt.Errorf("scan expense total: %w", err)
		}
		out[category] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expense totals: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListIncome(ctx context.Context, userID string, filter IncomeFilter) ([]Income, error) {
	q := newQuery(userID)
	if filter.Type != "" {
		q.add("type = ?", filter.Type)
	}
	q.dateRange("date", filter.Range)
	stmt := q.build("SELECT id, user_id, source, type, amount, date, description FROM income_entries", "date DESC, id", filter.Limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(stmt), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list income: %w", err)
	}
	defer rows.Close()

	var out []Income
	for rows.Next() {
		var in Income
		if err := rows.Scan(&in.ID, &in.UserID, &in.Source, &in.Type, &in.Amount, &in.Date, &in.Description); err != nil {
			return nil, fmt.Errorf("scan income: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate income: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListFuel(ctx context.Context, userID string, filter FuelFilter) ([]FuelPurchase, error) {
	q := newQuery(userID)
	q.dateRange("date", filter.Range)
	stmt := q.build("SELECT id, user_id, date, volume, cost, station, odometer FROM fuel_log", "date DESC, id", filter.Limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(stmt), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list fuel: %w", err)
	}
	defer rows.Close()

	var out []FuelPurchase
	for rows.Next() {
		var f FuelPurchase
		if err := rows.Scan(&f.ID, &f.UserID, &f.Date, &f.Volume, &f.Cost, &f.Station, &f.Odometer); err != nil {
			return nil, fmt.Errorf("scan fuel purchase: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fuel: %w", err)
	}
	return out, nil
}

const tripColumns = "id, user_id, name, status, origin, destination, start_date, end_date, distance, budget, notes"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (Trip, error) {
	var t Trip
	var end sql.NullTime
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Status, &t.Origin, &t.Destination,
		&t.StartDate, &end, &t.Distance, &t.Budget, &t.Notes); err != nil {
		return Trip{}, err
	}
	if end.Valid {
		endDate := end.Time
		t.EndDate = &endDate
	}
	return t, nil
}

func (s *SQLStore) ListTrips(ctx context.Context, userID string, filter TripFilter) ([]Trip, error) {
	q := newQuery(userID)
	if filter.Status != "" {
		q.add("status = ?", filter.Status)
	}
	q.dateRange("start_date", filter.Range)
	stmt := q.build("SELECT "+tripColumns+" FROM trips", "start_date DESC, id", filter.Limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(stmt), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var out []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}
	return out, nil
}

func (s *SQLStore) GetTrip(ctx context.Context, userID, tripID string) (*Trip, error) {
	if tripID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		s.dialect.Rebind("SELECT "+tripColumns+" FROM trips WHERE user_id = ? AND id = ?"),
		userID, tripID,
	)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return &t, nil
}

func (s *SQLStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT user_id, full_name, email, region, travel_style, currency, created_at
			FROM profiles WHERE user_id = ?`),
		userID,
	).Scan(&p.UserID, &p.FullName, &p.Email, &p.Region, &p.TravelStyle, &p.Currency, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) ListVehicles(ctx context.Context, userID string) ([]Vehicle, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind("SELECT id, user_id, name, make, model, year, fuel_type FROM vehicles WHERE user_id = ? ORDER BY name, id"),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	var out []Vehicle
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.UserID, &v.Name, &v.Make, &v.Model, &v.Year, &v.FuelType); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vehicles: %w", err)
	}
	return out, nil
}

type searchSource struct {
	kind  SearchScope
	query string
}

func (s *SQLStore) searchSources() []searchSource {
	like := s.dialect.LikeOperator()
	return []searchSource{
		{ScopeExpenses, `SELECT id, category || ': ' || description, amount, date FROM expenses
			WHERE user_id = ? AND (category ` + like + ` ? ESCAPE '\' OR description ` + like + ` ? ESCAPE '\')
			ORDER BY date DESC, id LIMIT ?`},
		{ScopeTrips, `SELECT id, name, budget, start_date FROM trips
			WHERE user_id = ? AND (name ` + like + ` ? ESCAPE '\' OR destination ` + like + ` ? ESCAPE '\')
			ORDER BY start_date DESC, id LIMIT ?`},
		{ScopeIncome, `SELECT id, source, amount, date FROM income_entries
			WHERE user_id = ? AND (source ` + like + ` ? ESCAPE '\' OR description ` + like + ` ? ESCAPE '\')
			ORDER BY date DESC, id LIMIT ?`},
	}
}

func (s *SQLStore) Search(ctx context.Context, userID string, sq SearchQuery) ([]SearchHit, error) {
	text := strings.TrimSpace(sq.Text)
	if text == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(text) + "%"
	limit := sq.Limit
	if limit <= 0 {
		limit = 1 << 20
	}

	var hits []SearchHit
	for _, src := range s.searchSources() {
		if !sq.Scope.Includes(src.kind) {
			continue
		}
		found, err := s.searchOne(ctx, src, userID, pattern, limit)
		if err != nil {
			return nil, err
		}
		hits = append(hits, found...)
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *SQLStore) searchOne(ctx context.Context, src searchSource, userID, pattern string, limit int) ([]SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(src.query), userID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", src.kind, err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		hit := SearchHit{Kind: src.kind}
		if err := rows.Scan(&hit.ID, &hit.Title, &hit.Amount, &hit.Date); err != nil {
			return nil, fmt.Errorf("scan %s hit: %w", src.kind, err)
		}
		hit.Title = strings.TrimSuffix(hit.Title, ": ")
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s hits: %w", src.kind, err)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// sortHits orders hits newest first, then by kind and ID for stability.
func sortHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if !hits[i].Date.Equal(hits[j].Date) {
			return hits[i].Date.After(hits[j].Date)
		}
		if hits[i].Kind != hits[j].Kind {
			return hits[i].Kind < hits[j].Kind
		}
		return hits[i].ID < hits[j].ID
	})
}

var _ Store = (*SQLStore)(nil)
