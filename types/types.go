package types

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

type StatusType int32

const (
	None           StatusType = 0
	Pending        StatusType = 1
	Running        StatusType = 2
	Retrying       StatusType = 4
	Failed         StatusType = 5
	UpstreamFailed StatusType = 6
	Succeeded      StatusType = 10
)

var statusNames = map[StatusType]string{
	None:           "none",
	Pending:        "pending",
	Running:        "running",
	Retrying:       "retrying",
	Failed:         "failed",
	UpstreamFailed: "upstream_failed",
	Succeeded:      "succeeded",
}

func (s StatusType) String() string {
	if name, exists := statusNames[s]; exists {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no further transition can happen from s.
func (s StatusType) IsTerminal() bool {
	return s == Succeeded || s == Failed || s == UpstreamFailed
}

// Context is handed to every task invocation. It carries the scheduled run's
// logical timestamp, which tasks use to select the partition they work on.
type Context interface {
	context.Context

	GetRunID() string
	GetDAGName() string
	GetTaskName() string
	GetAttempt() int
	LogicalTime() time.Time
	Params() Data
	Logger() *log.Entry
}
