// Package observability provides the logrus logger, Prometheus metrics and
// health checks shared by the gatekeep server and CLI.
//
// Access decisions are counted per evaluation stage so that the table-level
// short circuit is visible in production:
//
//	gatekeep_access_evaluations_total{stage="table"}
//	gatekeep_access_evaluations_total{stage="field"}
//	gatekeep_access_evaluations_total{stage="record"}
//
// A request denied at the table level increments only the first counter.
package observability
