// Package service drives the lifecycle of the services of an environment:
// applications, routers and databases.
//
// Every Resource exposes three operations (create, pause, delete), each
// backed by three hooks. The Driver runs the check hook first, then the
// operation, and the error hook when either fails:
//
//	idle -> checking -> executing -> succeeded
//	            |           |
//	            +-----------+-> failed (error hook runs)
//
// A failing error hook is reported as a warning and never replaces the
// operation error.
//
// Resources deploy their chart through the engine as a single-chart level,
// with a values file rendered from their template context. DNS checks of
// routers only warn; a public database whose domain does not resolve fails
// its create.
package service
