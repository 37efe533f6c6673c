package tools

// Allowed enum values shared between the catalog and the handlers.
var (
	IncomeTypes  = []string{"salary", "freelance", "business", "investment", "rental", "other"}
	TripStatuses = []string{"planned", "active", "completed", "cancelled"}
	SearchScopes = []string{"all", "expenses", "trips", "income"}
)

func bound(v float64) *float64 { return &v }

func dateParam(desc string) ParameterSpec {
	return ParameterSpec{Type: TypeString, Format: FormatDate, Description: desc}
}

func limitParam(upper float64) ParameterSpec {
	return ParameterSpec{
		Type:        TypeInteger,
		Description: "Maximum number of records to return",
		Minimum:     bound(1),
		Maximum:     bound(upper),
	}
}

// Catalog returns the tool definitions served to the reasoning engine.
func Catalog() []Definition {
	return []Definition{
		{
			Name:        GetUserExpenses,
			Description: "Get the user's expenses with optional category, date range and amount filters",
			Parameters: map[string]ParameterSpec{
				"category":   {Type: TypeString, Description: "Expense category, e.g. Fuel or Food"},
				"start_date": dateParam("Only include expenses on or after this date"),
				"end_date":   dateParam("Only include expenses on or before this date"),
				"min_amount": {Type: TypeNumber, Minimum: bound(0), Description: "Minimum expense amount"},
				"max_amount": {Type: TypeNumber, Minimum: bound(0), Description: "Maximum expense amount"},
				"limit":      limitParam(100),
			},
		},
		{
			Name:        GetUserBudgets,
			Description: "Get the user's budgets and, optionally, how much of each has been spent",
			Parameters: map[string]ParameterSpec{
				"category":      {Type: TypeString, Description: "Only return the budget for this category"},
				"include_spent": {Type: TypeBoolean, Description: "Include spent and remaining amounts"},
			},
		},
		{
			Name:        GetIncomeData,
			Description: "Get the user's income records with optional type and date filters",
			Parameters: map[string]ParameterSpec{
				"income_type": {Type: TypeString, Enum: IncomeTypes, Description: "Kind of income"},
				"start_date":  dateParam("Only include income on or after this date"),
				"end_date":    dateParam("Only include income on or before this date"),
				"limit":       limitParam(100),
			},
		},
		{
			Name:        GetFuelData,
			Description: "Get the user's fuel purchases and consumption summary",
			Parameters: map[string]ParameterSpec{
				"start_date": dateParam("Only include fill-ups on or after this date"),
				"end_date":   dateParam("Only include fill-ups on or before this date"),
				"limit":      limitParam(100),
			},
		},
		{
			Name:        GetTripHistory,
			Description: "Get the user's trips with optional status and date filters",
			Parameters: map[string]ParameterSpec{
				"status":     {Type: TypeString, Enum: TripStatuses, Description: "Trip status"},
				"start_date": dateParam("Only include trips starting on or after this date"),
				"end_date":   dateParam("Only include trips starting on or before this date"),
				"limit":      limitParam(100),
			},
		},
		{
			Name:        GetTripDetails,
			Description: "Get full details for a single trip",
			Parameters: map[string]ParameterSpec{
				"trip_id": {Type: TypeString, Required: true, Description: "Trip identifier"},
			},
		},
		{
			Name:        GetUserProfile,
			Description: "Get the user's profile, travel preferences and vehicles",
			Parameters: map[string]ParameterSpec{
				"include_vehicles": {Type: TypeBoolean, Description: "Include registered vehicles"},
			},
		},
		{
			Name:        SearchUserData,
			Description: "Search across the user's expenses, trips and income",
			Parameters: map[string]ParameterSpec{
				"query": {Type: TypeString, Required: true, Description: "Free text to search for"},
				"scope": {Type: TypeString, Enum: SearchScopes, Description: "Which records to search"},
				"limit": limitParam(50),
			},
		},
		{
			Name:        GetCalendarEvents,
			Description: "Get the user's calendar events in a date range",
			Parameters: map[string]ParameterSpec{
				"start_date": dateParam("Range start"),
				"end_date":   dateParam("Range end"),
			},
		},
	}
}
