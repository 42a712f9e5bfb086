package tool

import "context"

// GetDepartmentsTool lists the departments a ticket can be routed to.
type GetDepartmentsTool struct {
	Departments Departments
}

func (t *GetDepartmentsTool) Name() string { return "getDepartments" }

func (t *GetDepartmentsTool) Execute(_ context.Context, _ Args) (any, error) {
	return map[string]any{"departments": t.Departments.List()}, nil
}
