package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ToolReadParkingSign = "read_parking_sign"
	ToolCurrentTime     = "get_current_time"

	subAgentSignReader = "parking_sign_reader"
)

var errNoImage = errors.New("no image attached")

// SignRestriction is one rule printed on a sign. Start and End are "15:04"
// local times; Days lists time.Weekday values the rule applies on.
type SignRestriction struct {
	Rule  string         `json:"rule"`
	Days  []time.Weekday `json:"days"`
	Start string         `json:"start"`
	End   string         `json:"end"`
}

type SignReading struct {
	SignText     string            `json:"sign_text"`
	Restrictions []SignRestriction `json:"restrictions"`
}

type ClockReading struct {
	ISO     string `json:"iso"`
	Weekday string `json:"weekday"`
	Time    string `json:"time"`
}

// DefaultTools registers the scripted parking-sign tools.
func DefaultTools(now func() time.Time) *Registry {
	r := NewRegistry()
	r.Register(Tool{Name: ToolReadParkingSign, SubAgent: subAgentSignReader, Run: readParkingSign})
	r.Register(Tool{Name: ToolCurrentTime, Run: currentTime(now)})
	return r
}

// readParkingSign returns a fixed reading for any attached image.
func readParkingSign(_ context.Context, args map[string]any) (json.RawMessage, error) {
	fileID, _ := args["file_id"].(string)
	if strings.TrimSpace(fileID) == "" {
		return nil, errNoImage
	}

	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	reading := SignReading{
		SignText: "NO PARKING 8AM-6PM MON-FRI",
		Restrictions: []SignRestriction{
			{Rule: "no_parking", Days: weekdays, Start: "08:00", End: "18:00"},
		},
	}
	return marshalResult(reading)
}

func currentTime(now func() time.Time) ToolFunc {
	return func(_ context.Context, _ map[string]any) (json.RawMessage, error) {
		t := now()
		return marshalResult(ClockReading{
			ISO:     t.Format(time.RFC3339),
			Weekday: t.Weekday().String(),
			Time:    t.Format("15:04"),
		})
	}
}

func marshalResult(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("agent.marshalResult: %w", err)
	}
	return b, nil
}

// Answer turns the tool readings into the assistant's reply. reading is nil
// when no sign could be read.
func Answer(reading *SignReading, at time.Time) string {
	if reading == nil {
		return "I need a photo of the parking sign to answer that. Attach one and ask again."
	}

	clock := at.Format("15:04")
	for _, r := range reading.Restrictions {
		if r.applies(at) {
			return fmt.Sprintf("No, you can't park here right now. The sign reads %q and it is %s %s, inside the restricted window (%s-%s).",
				reading.SignText, at.Weekday(), clock, r.Start, r.End)
		}
	}
	return fmt.Sprintf("Yes, you can park here right now. The sign reads %q and it is %s %s, outside the restricted hours.",
		reading.SignText, at.Weekday(), clock)
}

func (r SignRestriction) applies(at time.Time) bool {
	dayMatch := false
	for _, d := range r.Days {
		if d == at.Weekday() {
			dayMatch = true
			break
		}
	}
	if !dayMatch {
		return false
	}
	hm := at.Format("15:04")
	return hm >= r.Start && hm < r.End
}
