package middleware

// Reserved middleware tokens. Every other token in a route declaration is
// a permission code to check against the authenticated principal.
const (
	// TokenAuth requests authentication explicitly.
	TokenAuth = "auth"
	// TokenAnonymous marks a route public: no authentication, no
	// permission checks injected.
	TokenAnonymous = "anonymous"
)

// Chain is the concrete ordered middleware chain for one route, computed
// once at registration time. Permissions are checked in declared order;
// evaluation stops at the first denial.
type Chain struct {
	Authenticate bool
	Permissions  []string
}

// ResolveChain applies the default-policy decision table to a route's
// declared middleware tokens:
//
//	declared                         resulting chain
//	-------------------------------  --------------------------------
//	empty / absent                   [Authenticate]
//	contains "anonymous"             declared minus {anonymous, auth},
//	                                 no Authenticate step
//	has non-reserved tokens,         [Authenticate] + declared
//	  no "auth"
//	otherwise ("auth" present, or    declared, unchanged
//	  only "auth")
//
// The table is state-free: the same declaration always yields the same
// chain, so routes resolve once and cache the result.
func ResolveChain(declared []string) Chain {
	if len(declared) == 0 {
		return Chain{Authenticate: true}
	}

	var (
		hasAnonymous bool
		permissions  []string
	)
	for _, token := range declared {
		switch token {
		case TokenAuth:
			// Authentication is injected below for every non-anonymous
			// chain, so an explicit "auth" token adds nothing.
		case TokenAnonymous:
			hasAnonymous = true
		default:
			permissions = append(permissions, token)
		}
	}

	if hasAnonymous {
		return Chain{Authenticate: false, Permissions: permissions}
	}
	return Chain{Authenticate: true, Permissions: permissions}
}
