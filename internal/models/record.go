// Package models holds the record shapes shared between the Graph gateway and
// the analytics engine.
package models

import "strings"

// Field names as they appear on flattened list items.
const (
	FieldAssignedTo       = "AssignedTo"
	FieldSubmissionStatus = "SubmissionStatus"
	FieldStatus           = "Status"
	FieldBCD              = "BCD"
	FieldStartDate        = "Start Date"
	FieldStartDateAlt     = "StartDate"
	FieldCreated          = "Created"
)

// Unassigned is the bucket key for records without an assignee.
const Unassigned = "Unassigned"

// Record is a flattened list item: every nested person, lookup or
// multi-value field has already been reduced to a plain string.
type Record map[string]string

// Assignee returns the raw assignee and whether one is set.
func (r Record) Assignee() (string, bool) {
	v := strings.TrimSpace(r[FieldAssignedTo])
	if v == "" {
		return "", false
	}
	return r[FieldAssignedTo], true
}

// AssignedTo returns the assignee, or Unassigned when the field is absent.
func (r Record) AssignedTo() string {
	if v, ok := r.Assignee(); ok {
		return v
	}
	return Unassigned
}

// SubmissionStatus tolerates the spaced column name some lists use.
func (r Record) SubmissionStatus() string {
	if v := r[FieldSubmissionStatus]; v != "" {
		return v
	}
	return r["Submission status"]
}

func (r Record) Status() string {
	return r[FieldStatus]
}

func (r Record) BCD() string {
	return r[FieldBCD]
}

// AssignmentDate returns the first non-empty of the start date variants,
// falling back to the item creation time.
func (r Record) AssignmentDate() string {
	for _, k := range []string{FieldStartDate, FieldStartDateAlt, FieldCreated} {
		if v := strings.TrimSpace(r[k]); v != "" {
			return v
		}
	}
	return ""
}
