package rules

// Engine decides whether an expression matches a row.
type Engine interface {
	Match(expr Expression, row Value) bool
}

// JSONLogic is the built-in Engine.
type JSONLogic struct{}

func (JSONLogic) Match(expr Expression, row Value) bool {
	return expr.Truthy(row)
}
