package auth

import (
	"fmt"
	"strings"
)

// Action is the closed set of permission actions understood by the ledger.
type Action string

const (
	ActionView   Action = "view"
	ActionRead   Action = "read"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
	// ActionAdmin is a per-resource wildcard: a grant with this action
	// satisfies any other action on the same resource.
	ActionAdmin Action = "admin"
)

// Valid reports whether the action belongs to the closed set.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionRead, ActionModify, ActionDelete, ActionAdmin:
		return true
	}
	return false
}

// ParseAction validates a raw action string at the request boundary.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.TrimSpace(strings.ToLower(raw)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, raw)
	}
	return a, nil
}

// Known non-page resource kinds.
const (
	ResourceAdminDashboard  = "admin_dashboard"
	ResourceAPIKeys         = "api_keys"
	ResourceUsers           = "users"
	ResourceDepartmentPosts = "departments:posts"
)

// pageResourcePrefix namespaces page-gate rows, e.g. "page:/rules".
const pageResourcePrefix = "page:"

// ParseResource validates a raw resource string against the closed kinds.
// Page resources are accepted with any non-empty path after the prefix.
func ParseResource(raw string) (string, error) {
	resource := strings.TrimSpace(raw)
	switch resource {
	case ResourceAdminDashboard, ResourceAPIKeys, ResourceUsers, ResourceDepartmentPosts:
		return resource, nil
	}
	if strings.HasPrefix(resource, pageResourcePrefix) {
		return PageResource(strings.TrimPrefix(resource, pageResourcePrefix)), nil
	}
	return "", fmt.Errorf("%w: unknown resource %q", ErrInvalidInput, raw)
}

// PageResource normalizes a route path into its page-gate resource key.
// An empty path normalizes to "/".
func PageResource(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "/"
	}
	return pageResourcePrefix + path
}

// adminConsoleResources maps resources to the actions that elevate an
// identity into the admin console.
var adminConsoleResources = map[string][]Action{
	ResourceAdminDashboard: {ActionRead, ActionAdmin},
	ResourceAPIKeys:        {ActionAdmin, ActionRead},
	ResourceUsers:          {ActionRead, ActionAdmin},
}

func grantsAdminConsole(resource string, action Action) bool {
	for _, allowed := range adminConsoleResources[resource] {
		if action == allowed {
			return true
		}
	}
	return false
}
