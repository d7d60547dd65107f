package patient

import "time"

// Row is the external store's representation of a patient. Only the columns
// the triage pipeline reads or writes are mapped.
type Row struct {
	ID              string
	Name            string
	Age             int
	Gender          string
	Arrival         string // ISO-8601
	PatientSummary  string
	TriageLevel     int
	HeartRate       int
	RespiratoryRate int
	PainLevel       int
	Status          string
	AISummary       string
	AssignedNurse   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ToRow maps a record onto the store's insert columns field by field.
func ToRow(r *Record) Row {
	return Row{
		ID:              r.ID,
		Name:            r.Name,
		Age:             r.Age,
		Gender:          r.Gender,
		Arrival:         r.ArrivalTime.UTC().Format(time.RFC3339Nano),
		PatientSummary:  r.Summary(),
		TriageLevel:     int(r.TriageLevel),
		HeartRate:       r.Vitals.HeartRate,
		RespiratoryRate: r.Vitals.RespiratoryRate,
		PainLevel:       r.Vitals.PainLevel,
		Status:          string(r.Status),
		AISummary:       r.AISummary,
		AssignedNurse:   r.AssignedNurse,
	}
}

// FromRow rebuilds a record from a stored row. Columns the store does not
// keep come back empty; out of range values fall back to the intake
// baselines so read-back never breaks the record invariants.
func FromRow(row Row) *Record {
	arrival, ok := parseTimestamp(row.Arrival)
	if !ok || arrival.IsZero() {
		arrival = row.CreatedAt
	}
	if arrival.IsZero() {
		arrival = time.Now()
	}

	level := TriageLevel(row.TriageLevel)
	if !level.Valid() {
		level = DefaultTriageLevel
	}

	status := Status(row.Status)
	if !status.Valid() {
		status = StatusWaiting
	}

	rec := &Record{
		ID:             row.ID,
		Name:           row.Name,
		Age:            max(row.Age, 0),
		Gender:         NormalizeGender(row.Gender),
		ArrivalTime:    arrival,
		ChiefComplaint: row.PatientSummary,
		TriageLevel:    level,
		Vitals: Vitals{
			HeartRate:       positiveOr(row.HeartRate, DefaultHeartRate),
			RespiratoryRate: positiveOr(row.RespiratoryRate, DefaultRespiratory),
			PainLevel:       clamp(row.PainLevel, 0, maxPain),
		},
		Allergies:      []string{},
		Medications:    []string{},
		MedicalHistory: []string{},
		AISummary:      row.AISummary,
		AssignedNurse:  row.AssignedNurse,
		Status:         status,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if rec.ChiefComplaint == "" {
		rec.ChiefComplaint = DefaultChiefComplaint
	}
	return rec
}

func positiveOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
