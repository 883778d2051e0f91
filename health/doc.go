// Package health tracks the health of the dispatcher's dependencies.
//
// A Monitor holds the latest Status of each named component. Checks
// registered with Register are run together by RunChecks, typically from a
// ticker and from the /health endpoint:
//
//	mon := health.NewMonitor()
//	mon.Register("broker", brokerCheck, true)
//	mon.Register("model_server", inferencePing, false)
//	status := mon.RunChecks(ctx, "segdispatch")
//
// Three states are reported: healthy, degraded and unhealthy. A failing
// critical check makes the aggregate unhealthy; a failing optional check
// only degrades it. Error messages are sanitized so that URLs, paths,
// addresses and credentials do not leak through the health endpoint.
package health
