// Package auth turns request credentials into principals.
//
// Two authenticators are provided: opaque API tokens (prefix-tagged
// random secrets, stored hashed) and OIDC bearer ID tokens verified
// against the issuer. Both implement middleware.Authenticator and return
// authz.ErrUnauthenticated for anything the gate should map to 401.
package auth
