package mqttlink

import (
	"encoding/json"
	"time"
)

// Topic suffixes under the configured prefix.
const (
	suffixCommand    = "command"
	suffixResult     = "result"
	suffixState      = "state"
	suffixQuery      = "query"
	suffixQueryReply = "query/reply"
	suffixOnline     = "online"
)

// TopicCommand returns the inbound command topic for prefix.
func TopicCommand(prefix string) string { return prefix + "/" + suffixCommand }

// TopicResult returns the outbound command result topic for prefix.
func TopicResult(prefix string) string { return prefix + "/" + suffixResult }

// TopicState returns the retained interlock state topic for prefix.
func TopicState(prefix string) string { return prefix + "/" + suffixState }

// TopicQuery returns the inbound query topic for prefix.
func TopicQuery(prefix string) string { return prefix + "/" + suffixQuery }

// TopicQueryReply returns the outbound query reply topic for prefix.
func TopicQueryReply(prefix string) string { return prefix + "/" + suffixQueryReply }

// TopicOnline returns the retained availability topic for prefix. Point the
// client's will here (see WithWill) so ungraceful deaths are visible.
func TopicOnline(prefix string) string { return prefix + "/" + suffixOnline }

// CommandRequest is the inbound payload on the command topic.
//
// A missing ID is filled with a generated UUID so every result can be
// correlated.
type CommandRequest struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
}

// CommandResult is the outbound payload on the result topic, published exactly
// once per accepted request.
type CommandResult struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	// Status is "success" or "error".
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	// ElapsedMS is the time between request receipt and completion.
	ElapsedMS int64 `json:"elapsed_ms"`
}

// StateEvent is the outbound payload on the retained state topic, published on
// every interlock state transition.
type StateEvent struct {
	State     string `json:"state"`
	PrevState string `json:"prev_state,omitempty"`
	Timestamp string `json:"ts"`
}

// QueryRequest is the inbound payload on the query topic.
type QueryRequest struct {
	ID    string `json:"id,omitempty"`
	Query string `json:"query"`
}

// QueryReply is the outbound payload on the query reply topic. Answer is 0 or
// 1 for recognized queries and -1 for unrecognized ones.
type QueryReply struct {
	ID     string `json:"id"`
	Query  string `json:"query"`
	Answer int    `json:"answer"`
}

// onlineStatus is the retained payload on the availability topic.
type onlineStatus struct {
	Online bool `json:"online"`
}

// OnlinePayload returns the availability payload for the given status, also
// suitable as the will payload of a PahoClient.
func OnlinePayload(online bool) []byte {
	payload, _ := json.Marshal(onlineStatus{Online: online})
	return payload
}

// timestamp renders t for event payloads.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
