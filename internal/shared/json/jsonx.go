// Package jsonx routes JSON encoding through one implementation so callers on
// the job protocol path can swap it in one place.
package jsonx

import "github.com/goccy/go-json"

var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	NewEncoder = json.NewEncoder
)
