// Package auth verifies callers for the tenantgate API.
//
// # Overview
//
// The decision engine trusts the identity it is handed; this package is where
// that identity comes from. A Verifier turns a bearer token into an Identity, and
// the HTTP middleware stores it on the request context.
//
// # OpenID Connect
//
// OIDCVerifier checks ID tokens with github.com/coreos/go-oidc/v3:
//
//	verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
//		IssuerURL: "https://accounts.example.com",
//		ClientID:  "tenantgate",
//	})
//	identity, err := verifier.Verify(ctx, rawToken)
//
// The sub claim becomes the user id. UUID subjects are used directly; other
// subjects are mapped to a name-based UUID derived from issuer and subject, so
// the same account always gets the same id.
//
// # Context
//
//	ctx = auth.WithIdentity(ctx, identity)
//	identity, ok := auth.IdentityFromContext(ctx)
package auth
