// Package authz implements the authorization and access-scope resolution
// engine: given a principal with zero or more roles and a permission code,
// it decides whether the action is allowed, which rows the principal may
// see (data scope), and which fields of the underlying model it may
// read/create/update.
//
// The package composes four pieces:
//
//   - DeptIndex: an in-memory inclusive-descendant closure over the
//     department hierarchy, published by atomic snapshot swap.
//   - GrantStore: the read-only accessor over the grant relations,
//     implemented by the persistence layer (see pkg/storage/postgres).
//   - Resolver: the pure resolution algorithm with an injectable
//     scope-combination policy (MostPermissive by default).
//   - BundleCache: a per-principal memoization layer with single-flight
//     population, targeted eviction through a role→principal index, and
//     a TTL backstop.
//
// SignalBus subscribes to the redis channels the administrative write
// path publishes on, keeping cache and index coherent with grant and
// department mutations.
package authz
