// Package telemetry records scheduler, job and API metrics. Two backends
// exist: Prometheus for long-running processes that expose /metrics, and
// CloudWatch for Lambda entry points where nothing scrapes the process.
package telemetry

import (
	"time"

	"inzikt/internal/types"
)

// Metric names shared by both backends.
const (
	MetricSchedulerTick    = "SchedulerTick"
	MetricJobsRun          = "JobsRun"
	MetricJobExecution     = "JobExecution"
	MetricJobDuration      = "JobExecutionDuration"
	MetricAdhocJob         = "AdhocJob"
	MetricAdhocJobDuration = "AdhocJobDuration"
	MetricAPIRequestCount  = "APIRequestCount"
	MetricAPILatency       = "APILatency"

	DimOutcome  = "Outcome"
	DimJobType  = "JobType"
	DimStatus   = "Status"
	DimMethod   = "Method"
	DimEndpoint = "Endpoint"
)

// Recorder is the union of every metrics hook in the application.
type Recorder interface {
	RecordTick(outcome string, jobsRun int)
	RecordExecution(jobType string, status types.ExecutionStatus, d time.Duration)
	RecordAdhocJob(jobType string, status types.AdhocStatus, d time.Duration)
	RecordRequest(method, endpoint, status string, d time.Duration)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordTick(string, int)                                       {}
func (Noop) RecordExecution(string, types.ExecutionStatus, time.Duration) {}
func (Noop) RecordAdhocJob(string, types.AdhocStatus, time.Duration)      {}
func (Noop) RecordRequest(string, string, string, time.Duration)          {}

var (
	_ Recorder = Noop{}
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = (*CloudWatch)(nil)
)
