// Package server provides the HTTP pieces the CLI runs locally: the OAuth callback
// listener and the optional Prometheus endpoint.
//
// # Routing
//
// [BasicRouter] wraps [http.ServeMux] and method-qualified patterns. [Middleware] is applied
// in reverse order, so the first one added is the outermost.
//
// # OAuth Callback
//
// [OAuthHandler] serves /callback once. It checks the state parameter, exchanges the code
// through an [Exchanger] (PKCE verifier included when set) and delivers exactly one
// [OAuthResult] on its channel.
//
// # Metrics
//
// [MetricsHandler] exposes the default Prometheus gatherer on /metrics, plus /healthz.
//
// Custom handlers implement [Handler], which pairs [http.Handler] with the routes it serves.
package server
