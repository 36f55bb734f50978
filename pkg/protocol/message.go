// Package protocol defines the websocket event envelope shared by the fleet
// server and the dashboard.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-fleet/pkg/activity"
	"github.com/teslashibe/go-fleet/pkg/device"
)

// EventType identifies the type of a dashboard event.
type EventType string

const (
	// Server → dashboard
	TypeStatus  EventType = "status"  // Session status snapshot
	TypeDevices EventType = "devices" // Full device list
	TypeLog     EventType = "log"     // One activity entry
	TypeHistory EventType = "history" // Activity entries replayed on connect

	// Bidirectional
	TypePing EventType = "ping"
	TypePong EventType = "pong"
)

// Event is the wrapper for all dashboard websocket JSON messages.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(eventType EventType, data any) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s data: %w", eventType, err)
		}
	}
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      raw,
	}, nil
}

// ParseData unmarshals the event data into v.
func (e *Event) ParseData(v any) error {
	if e.Data == nil {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Bytes returns the JSON-encoded event.
func (e *Event) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent parses a JSON event.
func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("protocol: parse event: %w", err)
	}
	return &e, nil
}

// StatusData is the session status shown in the dashboard header.
type StatusData struct {
	Session            string `json:"session"` // idle, connecting, open
	Speaking           bool   `json:"speaking"`
	CredentialRequired bool   `json:"credential_required"`
	Since              int64  `json:"since"` // Unix milliseconds
	Devices            int    `json:"devices"`
	Online             int    `json:"online"`
}

// DevicesData is the device list.
type DevicesData struct {
	Devices []device.Device `json:"devices"`
}

// HistoryData replays the activity log to a new subscriber.
type HistoryData struct {
	Entries []activity.Entry `json:"entries"`
}

// PingData is a keepalive sent by the dashboard.
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData answers a PingData.
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}

// NewStatusEvent creates a status event.
func NewStatusEvent(s StatusData) (*Event, error) {
	return NewEvent(TypeStatus, s)
}

// NewDevicesEvent creates a device list event. A nil list encodes as [].
func NewDevicesEvent(devices []device.Device) (*Event, error) {
	if devices == nil {
		devices = []device.Device{}
	}
	return NewEvent(TypeDevices, DevicesData{Devices: devices})
}

// NewLogEvent creates an event for one activity entry.
func NewLogEvent(e activity.Entry) (*Event, error) {
	return NewEvent(TypeLog, e)
}

// NewHistoryEvent creates a replay event.
func NewHistoryEvent(entries []activity.Entry) (*Event, error) {
	if entries == nil {
		entries = []activity.Entry{}
	}
	return NewEvent(TypeHistory, HistoryData{Entries: entries})
}

// NewPongEvent answers a ping received at pongTS.
func NewPongEvent(id string, pingTS, pongTS int64) (*Event, error) {
	return NewEvent(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// GetStatusData extracts status data.
func (e *Event) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := e.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetDevicesData extracts the device list.
func (e *Event) GetDevicesData() (*DevicesData, error) {
	var data DevicesData
	if err := e.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetLogEntry extracts an activity entry.
func (e *Event) GetLogEntry() (*activity.Entry, error) {
	var data activity.Entry
	if err := e.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data.
func (e *Event) GetPingData() (*PingData, error) {
	var data PingData
	if err := e.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
