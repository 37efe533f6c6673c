// Package tools holds the static tool catalog the reasoning engine may call,
// the registry that serves it, and the parameter contract validator.
package tools

import "sort"

// ToolName identifies a registered tool. The set is closed: every value is
// declared below and routed by agent.Router.
type ToolName string

const (
	GetUserExpenses   ToolName = "getUserExpenses"
	GetUserBudgets    ToolName = "getUserBudgets"
	GetIncomeData     ToolName = "getIncomeData"
	GetFuelData       ToolName = "getFuelData"
	GetTripHistory    ToolName = "getTripHistory"
	GetTripDetails    ToolName = "getTripDetails"
	GetUserProfile    ToolName = "getUserProfile"
	SearchUserData    ToolName = "searchUserData"
	GetCalendarEvents ToolName = "getCalendarEvents"
)

// ParamType is the JSON type a parameter must have.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// FormatDate marks string parameters that must be strict YYYY-MM-DD dates.
const FormatDate = "date"

// ParameterSpec is the contract for a single parameter.
type ParameterSpec struct {
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	Minimum     *float64
	Maximum     *float64
	Format      string
}

// Definition describes a tool and its parameter contract.
type Definition struct {
	Name        ToolName
	Description string
	Parameters  map[string]ParameterSpec
}

// RequiredParameters returns the required parameter names in sorted order.
func (d Definition) RequiredParameters() []string {
	var names []string
	for name, spec := range d.Parameters {
		if spec.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ParameterNames returns all declared parameter names in sorted order.
func (d Definition) ParameterNames() []string {
	names := make([]string, 0, len(d.Parameters))
	for name := range d.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
