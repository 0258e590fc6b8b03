package types

import "time"

type TaskState struct {
	Status      StatusType
	Attempts    int
	NextRunTime time.Time `json:",omitempty"`
	StartTime   time.Time `json:",omitempty"`
	EndTime     time.Time `json:",omitempty"`
	LastError   string    `json:",omitempty"`
	ErrorKind   string    `json:",omitempty"`
}

func (s *TaskState) Clone() *TaskState {
	c := *s
	return &c
}

type TaskTraceRecord struct {
	RunID     string
	Task      string
	Kind      TaskKind
	Attempt   int
	StartTime time.Time
	EndTime   time.Time
	Error     string
	ErrorKind string
}

// TaskEvent is published on every task state transition.
type TaskEvent struct {
	RunID     string     `json:"run_id"`
	DAGName   string     `json:"dag"`
	Task      string     `json:"task"`
	Status    StatusType `json:"status"`
	Attempt   int        `json:"attempt"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type EventPublisher interface {
	PublishTaskEvent(event *TaskEvent) error
}
