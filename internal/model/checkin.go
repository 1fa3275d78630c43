package model

import (
	"strings"
	"time"
)

type Source string

const (
	SourceManual Source = "manual"
	SourceQRScan Source = "qr_scan"
)

// ParseSource returns SourceQRScan for "qr_scan" and SourceManual for
// anything else, including an absent value.
func ParseSource(s *string) Source {
	if s != nil && strings.TrimSpace(*s) == string(SourceQRScan) {
		return SourceQRScan
	}
	return SourceManual
}

// Event is owned by the event management subsystem and only read here.
// Coordinates are pointers because upstream rows may carry NULLs.
type Event struct {
	ID        string
	Latitude  *float64
	Longitude *float64
	QRSecret  *string
}

type CheckIn struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	EventID         string    `json:"event_id"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	ValidatedRadius int       `json:"validated_radius"`
	Source          Source    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// CheckInRequest is the wire body of POST /v1/checkin. Optional fields stay
// nil when absent.
type CheckInRequest struct {
	EventID string   `json:"eventId"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	QRToken *string  `json:"qrToken,omitempty"`
	Source  *string  `json:"source,omitempty"`
}

// CheckInResult is the outcome of a successful pipeline run.
type CheckInResult struct {
	CheckIn     CheckIn
	Distance    int
	Transaction *LedgerTransaction
}

// Rewarded reports whether a credit transaction was appended.
func (r *CheckInResult) Rewarded() bool {
	return r != nil && r.Transaction != nil
}
