package models

import (
	"encoding/json"
	"time"
)

// AnalysisKind identifies one unit of dispatched work within a task.
type AnalysisKind string

const (
	KindDataFetch AnalysisKind = "data_fetch"
	KindSentiment AnalysisKind = "sentiment"
	KindTechnical AnalysisKind = "technical"
	KindForecast  AnalysisKind = "forecast"
)

// AnalysisKinds lists the kinds a client may request. KindDataFetch is
// implicit: it is created for every task because all analyses depend on it.
var AnalysisKinds = []AnalysisKind{KindSentiment, KindTechnical, KindForecast}

// Valid reports whether k is a requestable analysis kind.
func (k AnalysisKind) Valid() bool {
	switch k {
	case KindSentiment, KindTechnical, KindForecast:
		return true
	}
	return false
}

// ForecastTimeframe is the horizon for forecast analyses.
type ForecastTimeframe string

const (
	Timeframe6M  ForecastTimeframe = "6m"
	Timeframe12M ForecastTimeframe = "12m"
	Timeframe3Y  ForecastTimeframe = "3y"
)

func (t ForecastTimeframe) Valid() bool {
	switch t {
	case Timeframe6M, Timeframe12M, Timeframe3Y:
		return true
	}
	return false
}

// SubTaskState is the lifecycle state of a sub-task.
// Transitions are monotonic: pending -> running -> terminal. The only state
// reachable twice is running (on retry). Terminal states never change.
type SubTaskState string

const (
	StatePending   SubTaskState = "pending"
	StateRunning   SubTaskState = "running"
	StateSucceeded SubTaskState = "succeeded"
	StateFailed    SubTaskState = "failed"
	StateTimedOut  SubTaskState = "timed_out"
)

// Terminal reports whether s is a final state.
func (s SubTaskState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// TaskStatus is the aggregate status computed from sub-task states on poll.
type TaskStatus string

const (
	StatusPending  TaskStatus = "pending"
	StatusPartial  TaskStatus = "partial"
	StatusComplete TaskStatus = "complete"
	StatusFailed   TaskStatus = "failed"
)

// Task identifies one client analysis request. The record holds no results,
// only the identifiers needed to look up its sub-tasks. RequestedKinds is
// fixed at creation.
type Task struct {
	ID                string            `json:"task_id"`
	Symbol            string            `json:"symbol"`
	RequestedKinds    []AnalysisKind    `json:"requested_kinds"`
	ForecastTimeframe ForecastTimeframe `json:"forecast_timeframe,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
}

// Requested reports whether kind was requested for this task.
func (t *Task) Requested(kind AnalysisKind) bool {
	for _, k := range t.RequestedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// SubTask is one unit of dispatched work for a (task, kind) pair.
// Result is set only on succeeded, Error only on failed/timed_out.
type SubTask struct {
	TaskID       string          `json:"task_id"`
	Kind         AnalysisKind    `json:"kind"`
	State        SubTaskState    `json:"state"`
	AttemptCount int             `json:"attempt_count"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Invocation is the broker payload carrying one sub-task to a worker.
type Invocation struct {
	TaskID            string            `json:"task_id"`
	Kind              AnalysisKind      `json:"kind"`
	Symbol            string            `json:"symbol"`
	ForecastTimeframe ForecastTimeframe `json:"forecast_timeframe,omitempty"`
}

// SubTaskView is the per-kind entry of a poll response.
type SubTaskView struct {
	State  SubTaskState    `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// TaskStatusDoc is the full poll response for a task.
type TaskStatusDoc struct {
	TaskID  string                       `json:"task_id"`
	Symbol  string                       `json:"symbol"`
	Status  TaskStatus                   `json:"status"`
	Results map[AnalysisKind]SubTaskView `json:"results"`
}
