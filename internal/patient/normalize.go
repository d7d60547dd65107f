package patient

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
)

// Baselines substituted for missing intake data.
const (
	DefaultName           = "Unknown"
	DefaultChiefComplaint = "No symptoms provided"
	DefaultHeartRate      = 80
	DefaultRespiratory    = 16
	DefaultPainLevel      = 1
	ManualIntakeNote      = "Manual intake"
)

const (
	maxHeartRate   = 300
	maxRespiratory = 80
	maxPain        = 10
	maxAge         = 150
)

var validate = validator.New()

// Normalize turns a loosely-typed intake payload into a fully populated
// Record. It accepts both the dashboard form shape (camelCase, vitals
// object) and the triage assistant shape (snake_case, symptoms,
// pain_assessment, patient_id). Missing or malformed fields are defaulted;
// only input that is not a JSON object yields a *ValidationError.
func Normalize(raw []byte, now time.Time) (*Record, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ValidationError{Reason: "payload is not valid JSON"}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, &ValidationError{Reason: "payload must be a JSON object"}
	}

	rec := &Record{
		ID:             ulid.Make().String(),
		Name:           parseName(first(root, "name", "fullName", "full_name")),
		Age:            parseAge(first(root, "age")),
		Gender:         NormalizeGender(stringOr(first(root, "gender", "sex"), "")),
		ArrivalTime:    parseArrival(first(root, "arrivalTime", "arrival_time", "arrival"), now),
		ChiefComplaint: stringOr(first(root, "chiefComplaint", "chief_complaint", "symptoms"), DefaultChiefComplaint),
		TriageLevel:    parseTriageLevel(first(root, "triageLevel", "triage_level")),
		PainAssessment: parsePainAssessment(first(root, "painAssessment", "pain_assessment")),
		Allergies:      stringList(first(root, "allergies")),
		Medications:    stringList(first(root, "medications")),
		MedicalHistory: stringList(first(root, "medicalHistory", "medical_history")),
		AISummary:      stringOr(first(root, "aiSummary", "ai_summary"), ""),
		AssignedNurse:  stringOr(first(root, "assignedNurse", "assigned_nurse"), ""),
		Status:         parseStatus(first(root, "status")),
	}

	rec.Vitals = Vitals{
		HeartRate:       boundedInt(first(root, "vitals.heartRate", "heart_rate", "heartRate"), DefaultHeartRate, maxHeartRate),
		RespiratoryRate: boundedInt(first(root, "vitals.respiratoryRate", "respiratory_rate", "respiratoryRate"), DefaultRespiratory, maxRespiratory),
		PainLevel:       parsePainLevel(root),
	}

	rec.Notes = buildNotes(
		stringOr(first(root, "notes"), ""),
		refValue(first(root, "patient_id", "patientId", "assessment_id", "assessmentId")),
	)

	if err := checkInvariants(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// NormalizeGender maps free text onto Male, Female or Other.
func NormalizeGender(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case lower == "":
		return GenderOther
	case lower == "f" || strings.Contains(lower, "female") || strings.Contains(lower, "woman"):
		return GenderFemale
	case lower == "m" || strings.Contains(lower, "male") || lower == "man":
		return GenderMale
	}
	return GenderOther
}

func checkInvariants(rec *Record) error {
	if rec.ArrivalTime.IsZero() {
		return &ValidationError{Field: "arrivalTime", Reason: "must be set"}
	}
	if err := validate.Struct(rec); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}

// first returns the first path present with a non-null value.
func first(root gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// parseName never fails: numbers are kept as their literal text and any
// other non-string value falls back to the placeholder.
func parseName(v gjson.Result) string {
	var raw string
	switch v.Type {
	case gjson.String:
		raw = v.Str
	case gjson.Number:
		raw = v.Raw
	}
	if name := strings.Join(strings.Fields(raw), " "); name != "" {
		return name
	}
	return DefaultName
}

func parseAge(v gjson.Result) int {
	n, ok := intValue(v)
	if !ok || n < 0 {
		return 0
	}
	return min(n, maxAge)
}

func parseTriageLevel(v gjson.Result) TriageLevel {
	f, ok := floatValue(v)
	if !ok || f != math.Trunc(f) {
		return DefaultTriageLevel
	}
	if f < float64(LevelResuscitation) || f > float64(LevelNonUrgent) {
		return DefaultTriageLevel
	}
	return TriageLevel(f)
}

// parsePainLevel prefers the pain assessment's clinical level over any
// separately supplied pain value.
func parsePainLevel(root gjson.Result) int {
	if n, ok := intValue(first(root, "painAssessment.medicalPainLevel", "pain_assessment.medical_pain_level")); ok {
		return clamp(n, 0, maxPain)
	}
	if n, ok := intValue(first(root, "vitals.painLevel", "pain_level", "painLevel")); ok {
		return clamp(n, 0, maxPain)
	}
	return DefaultPainLevel
}

func parsePainAssessment(v gjson.Result) *PainAssessment {
	if !v.IsObject() {
		return nil
	}
	pa := &PainAssessment{
		AveragePain:       clampFloat(floatOr(first(v, "averagePain", "average_pain"), 0), 0, maxPain),
		MaxPain:           clampFloat(floatOr(first(v, "maxPain", "max_pain"), 0), 0, maxPain),
		OverallConfidence: clampFloat(floatOr(first(v, "overallConfidence", "overall_confidence"), 0), 0, 1),
	}
	if n, ok := intValue(first(v, "painReadings", "pain_readings")); ok && n > 0 {
		pa.PainReadings = n
	}
	if n, ok := intValue(first(v, "medicalPainLevel", "medical_pain_level")); ok {
		pa.MedicalPainLevel = clamp(n, 0, maxPain)
	}
	return pa
}

func parseArrival(v gjson.Result, now time.Time) time.Time {
	if v.Type == gjson.String {
		if t, ok := parseTimestamp(v.Str); ok {
			return t
		}
	}
	return now
}

// timestampLayouts are tried in order. Zone-less timestamps are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp reads ISO-8601 timestamps with or without a zone, with a
// T or space separator (the shape PostgreSQL prints).
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseStatus(v gjson.Result) Status {
	s := Status(strings.ToLower(stringOr(v, "")))
	if s.Valid() {
		return s
	}
	return StatusWaiting
}

func buildNotes(notes, ref string) string {
	if ref == "" {
		if notes == "" {
			return ManualIntakeNote
		}
		return notes
	}
	trace := "Automated triage assessment (ref " + ref + ")"
	if notes == "" {
		return trace
	}
	return trace + ". " + notes
}

func boundedInt(v gjson.Result, def, hi int) int {
	n, ok := intValue(v)
	if !ok {
		return def
	}
	return clamp(n, 0, hi)
}

func stringOr(v gjson.Result, def string) string {
	if v.Type != gjson.String {
		return def
	}
	if s := strings.TrimSpace(v.Str); s != "" {
		return s
	}
	return def
}

func stringList(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	for _, item := range v.Array() {
		if item.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(item.Str); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func refValue(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.Number:
		return v.Raw
	}
	return ""
}

func floatValue(v gjson.Result) (float64, bool) {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Num
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func floatOr(v gjson.Result, def float64) float64 {
	if f, ok := floatValue(v); ok {
		return f
	}
	return def
}

// intValue truncates toward zero. Values beyond int32 are pinned so the
// conversion stays defined.
func intValue(v gjson.Result) (int, bool) {
	f, ok := floatValue(v)
	if !ok {
		return 0, false
	}
	return int(clampFloat(f, math.MinInt32, math.MaxInt32)), true
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func clampFloat(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(f, hi))
}
