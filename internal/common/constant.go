package common

// AccessTokenHeaderName is the gRPC metadata key carrying the session token.
const AccessTokenHeaderName = "access_token"

// AuthCookieName is the HTTP cookie carrying the session token.
const AuthCookieName = "auth-token"
