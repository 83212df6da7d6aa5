// Package model defines the core domain models used throughout the pipeline.
package model

import (
	"time"
	"unicode/utf8"
)

// SourceNote is a clinical note as handed over by the source connector.
// It is immutable once ingested.
type SourceNote struct {
	VisitDate   time.Time `json:"visit_date"`
	ID          string    `json:"id"`
	PatientName string    `json:"patient_name"`
	RawText     string    `json:"raw_text"`
	Length      int       `json:"length"`
}

// TextLength returns Length, deriving it from RawText when unset.
func (n SourceNote) TextLength() int {
	if n.Length > 0 {
		return n.Length
	}
	return utf8.RuneCountInString(n.RawText)
}

// DestinationRecord is a read-only snapshot of a record in the destination EHR.
type DestinationRecord struct {
	VisitDate   time.Time `json:"visit_date"`
	ID          string    `json:"id"`
	PatientName string    `json:"patient_name"`
	Provider    string    `json:"provider"`
	Location    string    `json:"location"`
	Text        string    `json:"text,omitempty"`
	IsSigned    bool      `json:"is_signed"`
}

// DateRange represents a closed period of visit dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls on or between the range's days.
// A zero bound is open.
func (r DateRange) Contains(t time.Time) bool {
	day := DateOnly(t)
	if !r.Start.IsZero() && day.Before(DateOnly(r.Start)) {
		return false
	}
	if !r.End.IsZero() && day.After(DateOnly(r.End)) {
		return false
	}
	return true
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Tag is free-form metadata attached to a patient identity.
type Tag struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}
