// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package notify

// Location is a coordinate in a Payload.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Payload is the JSON document sent by the sinks that deliver over the network.
type Payload struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Target    Location  `json:"target"`
	Position  *Location `json:"position,omitempty"`
	Distance  float64   `json:"distance_m"`
	Threshold float64   `json:"threshold_m"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Test      bool      `json:"test,omitempty"`
}

// NewPayload converts msg into its JSON representation.
func NewPayload(msg Message) Payload {
	payload := Payload{
		Title:     msg.Title,
		Body:      msg.Body,
		Target:    Location{Lat: msg.Target.Lat, Lon: msg.Target.Lon},
		Distance:  msg.Distance,
		Threshold: msg.Threshold,
		Test:      msg.Test,
	}
	if !msg.Test {
		payload.Position = &Location{Lat: msg.Position.Lat, Lon: msg.Position.Lon}
	}
	if !msg.At.IsZero() {
		payload.Timestamp = msg.At.Unix()
	}
	return payload
}
