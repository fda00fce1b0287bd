package domain

import (
	"encoding/json"
	"time"
)

// Dead-letter record headers.
const (
	HeaderDLTCause             = "x-dlt-cause"
	HeaderDLTAttempts          = "x-dlt-attempts"
	HeaderDLTFailedAt          = "x-dlt-failed-at"
	HeaderDLTOriginalPartition = "x-dlt-original-partition"
	HeaderDLTOriginalOffset    = "x-dlt-original-offset"
)

// DLTSuffix is appended to a topic name to form its dead-letter topic.
const DLTSuffix = "-dlt"

// DeadLetterTopic returns the dead-letter topic for topic.
func DeadLetterTopic(topic string) string {
	return topic + DLTSuffix
}

// DeadLetter is the observable form of a dead-lettered record. Message holds
// the original value verbatim.
type DeadLetter struct {
	Message   json.RawMessage `json:"message"`
	Key       string          `json:"key,omitempty"`
	Topic     string          `json:"topic"`
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
	Cause     string          `json:"cause"`
	Attempts  int             `json:"attempts"`
	FailedAt  time.Time       `json:"failedAt"`
}

// ChatMessage decodes the original value when it is a well-formed message.
func (d *DeadLetter) ChatMessage() (*ChatMessage, bool) {
	var msg ChatMessage
	if err := json.Unmarshal(d.Message, &msg); err != nil {
		return nil, false
	}
	return &msg, true
}
