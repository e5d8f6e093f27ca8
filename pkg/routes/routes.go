// Package routes loads the guarded route table from YAML and hot-reloads
// it on file changes.
//
// Each route declares its path, method, and middleware tokens; the gate
// resolves the tokens to a concrete chain at registration time. Example:
//
//	routes:
//	  - path: /api/v1/orders
//	    method: GET
//	    middleware: [auth, order.read]
//	  - path: /health
//	    method: GET
//	    middleware: [anonymous]
package routes

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/portcullis/pkg/middleware"
)

// Route is one declared route.
type Route struct {
	Path       string   `yaml:"path"`
	Method     string   `yaml:"method"`
	Middleware []string `yaml:"middleware"`
}

// Chain resolves the declared middleware tokens under the default policy.
func (r Route) Chain() middleware.Chain {
	return middleware.ResolveChain(r.Middleware)
}

// Table is the full declared route table.
type Table struct {
	Routes []Route `yaml:"routes"`
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// Load reads and validates a route table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a route table from YAML bytes.
func Parse(data []byte) (*Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// Validate rejects malformed declarations before they reach the router.
// Duplicate (method, path) pairs are an error: silently shadowed routes
// are how permission checks get lost.
func (t *Table) Validate() error {
	if len(t.Routes) == 0 {
		return fmt.Errorf("route table declares no routes")
	}

	seen := map[string]int{}
	for i, r := range t.Routes {
		if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route %d: path %q must start with /", i, r.Path)
		}
		method := strings.ToUpper(r.Method)
		if !validMethods[method] {
			return fmt.Errorf("route %d (%s): invalid method %q", i, r.Path, r.Method)
		}
		t.Routes[i].Method = method

		key := method + " " + r.Path
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("route %d duplicates route %d: %s", i, prev, key)
		}
		seen[key] = i

		var hasAnonymous bool
		var permissions []string
		for _, token := range r.Middleware {
			switch token {
			case "":
				return fmt.Errorf("route %d (%s): empty middleware token", i, r.Path)
			case middleware.TokenAnonymous:
				hasAnonymous = true
			case middleware.TokenAuth:
			default:
				permissions = append(permissions, token)
			}
		}
		// Contradictory declaration: permission codes can only be checked
		// against an authenticated principal, so an anonymous route
		// carrying them would always deny. Reject it at load time.
		if hasAnonymous && len(permissions) > 0 {
			return fmt.Errorf("route %d (%s): anonymous route declares permission codes %v", i, r.Path, permissions)
		}
	}
	return nil
}
