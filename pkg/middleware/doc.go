// Package middleware contains the route-middleware default-policy
// resolver and the request gate.
//
// A route declares a list of middleware tokens. ResolveChain turns that
// list into a concrete ordered chain (authentication, then zero or more
// permission codes) once at registration time. The Gate executes the
// chain per request: authentication first, then each permission code
// through the bundle cache, attaching the resolved effective grant to the
// request context on success.
package middleware
