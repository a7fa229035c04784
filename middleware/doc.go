// Package middleware adapts the trustcore services to net/http.
//
//   - [RequireAccess] verifies the bearer access credential and stores the
//     claims in the request context.
//   - [RequireRole] restricts a route to the listed roles.
//   - [RateLimit] applies the rule table and answers 429 when a bucket is full.
//
// Every decision is delegated to the engine. Error bodies only ever carry the
// generic messages of [trustcore.PublicMessage].
package middleware
