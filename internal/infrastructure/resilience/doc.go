// Package resilience implements a small circuit breaker used to guard
// the HTTP health probe. After enough consecutive failures the breaker
// opens and probe calls fail fast; once the recovery window passes a
// trial call decides whether it closes again.
package resilience
