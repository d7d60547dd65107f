package patient

import "time"

// Status tracks where a patient is in the department.
type Status string

const (
	// StatusWaiting means triaged and waiting to be seen
	StatusWaiting Status = "waiting"

	// StatusInTreatment means currently with a clinician
	StatusInTreatment Status = "in-treatment"

	// StatusDischarged means left the department
	StatusDischarged Status = "discharged"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInTreatment, StatusDischarged:
		return true
	}
	return false
}

// TriageLevel is the severity classification, 1 (most severe) to 5 (least severe).
type TriageLevel int

const (
	LevelResuscitation TriageLevel = 1
	LevelEmergent      TriageLevel = 2
	LevelUrgent        TriageLevel = 3
	LevelLessUrgent    TriageLevel = 4
	LevelNonUrgent     TriageLevel = 5
)

// DefaultTriageLevel is applied when no valid level is supplied. Unassessed
// arrivals are treated as moderately urgent.
const DefaultTriageLevel = LevelUrgent

// Valid reports whether l is on the severity scale.
func (l TriageLevel) Valid() bool {
	return l >= LevelResuscitation && l <= LevelNonUrgent
}

// Label returns the display name for the level.
func (l TriageLevel) Label() string {
	switch l {
	case LevelResuscitation:
		return "Resuscitation"
	case LevelEmergent:
		return "Emergent"
	case LevelUrgent:
		return "Urgent"
	case LevelLessUrgent:
		return "Less Urgent"
	case LevelNonUrgent:
		return "Non-urgent"
	}
	return "Unknown"
}

// Gender categories accepted on a record.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"
)

// Vitals are the bedside measurements captured at intake.
type Vitals struct {
	HeartRate       int `json:"heartRate" validate:"gte=0,lte=300"`
	RespiratoryRate int `json:"respiratoryRate" validate:"gte=0,lte=80"`
	PainLevel       int `json:"painLevel" validate:"gte=0,lte=10"`
}

// PainAssessment is the facial pain analysis produced by the triage kiosk.
type PainAssessment struct {
	AveragePain       float64 `json:"averagePain" validate:"gte=0,lte=10"`
	MaxPain           float64 `json:"maxPain" validate:"gte=0,lte=10"`
	PainReadings      int     `json:"painReadings" validate:"gte=0"`
	OverallConfidence float64 `json:"overallConfidence" validate:"gte=0,lte=1"`
	MedicalPainLevel  int     `json:"medicalPainLevel" validate:"gte=0,lte=10"`
}

// Record is a patient in the triage queue.
type Record struct {
	ID             string          `json:"id" validate:"required"`
	Name           string          `json:"name" validate:"required"`
	Age            int             `json:"age" validate:"gte=0"`
	Gender         string          `json:"gender" validate:"oneof=Male Female Other"`
	ArrivalTime    time.Time       `json:"arrivalTime" validate:"required"`
	ChiefComplaint string          `json:"chiefComplaint"`
	TriageLevel    TriageLevel     `json:"triageLevel" validate:"gte=1,lte=5"`
	Vitals         Vitals          `json:"vitals"`
	PainAssessment *PainAssessment `json:"painAssessment,omitempty"`
	Allergies      []string        `json:"allergies"`
	Medications    []string        `json:"medications"`
	MedicalHistory []string        `json:"medicalHistory"`
	Notes          string          `json:"notes,omitempty"`
	AISummary      string          `json:"aiSummary,omitempty"`
	AssignedNurse  string          `json:"assignedNurse,omitempty"`
	Status         Status          `json:"status" validate:"oneof=waiting in-treatment discharged"`
	CreatedAt      time.Time       `json:"createdAt,omitzero"`
	UpdatedAt      time.Time       `json:"updatedAt,omitzero"`
}

// Clone returns a deep copy so callers never share slices with the working set.
func (r *Record) Clone() *Record {
	cp := *r
	if r.PainAssessment != nil {
		pa := *r.PainAssessment
		cp.PainAssessment = &pa
	}
	cp.Allergies = append([]string{}, r.Allergies...)
	cp.Medications = append([]string{}, r.Medications...)
	cp.MedicalHistory = append([]string{}, r.MedicalHistory...)
	return &cp
}

// Summary is the text written to the store's patient_summary column: the AI
// summary when one exists, otherwise the chief complaint.
func (r *Record) Summary() string {
	if r.AISummary != "" {
		return r.AISummary
	}
	return r.ChiefComplaint
}
