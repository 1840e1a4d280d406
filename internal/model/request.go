package model

import (
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities for display: critical first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ParsePriority accepts the lowercase wire names, ignoring surrounding space and case.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusAssigned  RequestStatus = "assigned"
	RequestStatusCompleted RequestStatus = "completed"
)

func (s RequestStatus) Active() bool {
	return s == RequestStatusPending || s == RequestStatusAssigned
}

// Request is one patient call for help. Values are passed around as copies;
// the memory store owns the authoritative instance.
type Request struct {
	ID              string        `db:"id" json:"id"`
	PatientName     string        `db:"patient_name" json:"patientName"`
	ContactNumber   string        `db:"contact_number" json:"contactNumber"`
	RoomNumber      string        `db:"room_number" json:"roomNumber"`
	BedNumber       *string       `db:"bed_number" json:"bedNumber,omitempty"`
	Disease         string        `db:"disease" json:"disease"`
	Description     string        `db:"description" json:"description"`
	Priority        Priority      `db:"priority" json:"priority"`
	Status          RequestStatus `db:"status" json:"status"`
	AssignedNurseID *string       `db:"assigned_nurse_id" json:"assignedNurseId,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
}

// Clone returns a deep copy so pointer fields are never shared between holders.
func (r Request) Clone() Request {
	out := r
	if r.BedNumber != nil {
		v := *r.BedNumber
		out.BedNumber = &v
	}
	if r.AssignedNurseID != nil {
		v := *r.AssignedNurseID
		out.AssignedNurseID = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		out.CompletedAt = &v
	}
	return out
}

// NurseID returns the assignee or "" when unassigned.
func (r Request) NurseID() string {
	if r.AssignedNurseID == nil {
		return ""
	}
	return *r.AssignedNurseID
}

// RequestFields are the patient-submitted fields, immutable after creation.
type RequestFields struct {
	PatientName   string   `json:"patientName" validate:"required"`
	ContactNumber string   `json:"contactNumber" validate:"required"`
	RoomNumber    string   `json:"roomNumber" validate:"required"`
	BedNumber     string   `json:"bedNumber"`
	Disease       string   `json:"disease" validate:"required"`
	Description   string   `json:"description"`
	Priority      Priority `json:"priority"`
}

// Normalize trims free-form input so whitespace-only values count as empty.
func (f RequestFields) Normalize() RequestFields {
	f.PatientName = strings.TrimSpace(f.PatientName)
	f.ContactNumber = strings.TrimSpace(f.ContactNumber)
	f.RoomNumber = strings.TrimSpace(f.RoomNumber)
	f.BedNumber = strings.TrimSpace(f.BedNumber)
	f.Disease = strings.TrimSpace(f.Disease)
	f.Description = strings.TrimSpace(f.Description)
	return f
}

// SubmitRequest is the payload of a patient submission.
type SubmitRequest struct {
	PatientName   string `json:"patientName" binding:"required"`
	ContactNumber string `json:"contactNumber" binding:"required"`
	RoomNumber    string `json:"roomNumber" binding:"required"`
	BedNumber     string `json:"bedNumber"`
	Disease       string `json:"disease" binding:"required"`
	Description   string `json:"description"`
}

// EmergencyRequest is the one-tap emergency submission. Priority defaults to critical.
type EmergencyRequest struct {
	PatientName   string `json:"patientName" binding:"required"`
	ContactNumber string `json:"contactNumber" binding:"required"`
	RoomNumber    string `json:"roomNumber" binding:"required"`
	BedNumber     string `json:"bedNumber"`
	Priority      string `json:"priority" binding:"omitempty,oneof=critical high medium low"`
	Description   string `json:"description"`
}

// AssignRequest names the nurse taking the request; empty means the caller.
type AssignRequest struct {
	NurseID string `json:"nurseId"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending assigned completed"`
}
