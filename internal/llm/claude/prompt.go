package claude

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

const clinicalSystem = "You are a medical AI assistant supporting emergency department staff. " +
	"Be professional, concise and accessible to nurses and physicians. Never invent vital signs."

const operationsSystem = "You are a healthcare operations AI assistant advising an emergency department charge nurse."

type prompt struct {
	system    string
	user      string
	maxTokens int64
}

func buildPrompt(req *patient.SummaryRequest) (prompt, error) {
	if req == nil {
		return prompt{}, fmt.Errorf("nil summary request")
	}
	switch req.Kind {
	case patient.SummarySymptoms:
		if req.Patient == nil {
			return prompt{}, fmt.Errorf("symptoms summary needs a patient")
		}
		return prompt{system: clinicalSystem, user: symptomsPrompt(req.Patient), maxTokens: 200}, nil
	case patient.SummaryTreatment:
		if req.Patient == nil {
			return prompt{}, fmt.Errorf("treatment summary needs a patient")
		}
		return prompt{system: clinicalSystem, user: treatmentPrompt(req.Patient), maxTokens: 200}, nil
	case patient.SummaryQueue:
		return prompt{system: operationsSystem, user: queuePrompt(req.Queue, req.Stats), maxTokens: 300}, nil
	}
	return prompt{}, fmt.Errorf("unsupported summary kind %q", req.Kind)
}

func writePatient(b *strings.Builder, r *patient.Record) {
	b.WriteString("Patient Information:\n")
	fmt.Fprintf(b, "- Name: %s\n", r.Name)
	fmt.Fprintf(b, "- Age: %d\n", r.Age)
	fmt.Fprintf(b, "- Chief Complaint: %s\n", r.ChiefComplaint)
	fmt.Fprintf(b, "- Heart Rate: %d bpm\n", r.Vitals.HeartRate)
	fmt.Fprintf(b, "- Respiratory Rate: %d breaths/min\n", r.Vitals.RespiratoryRate)
	fmt.Fprintf(b, "- Pain Level: %d/10\n", r.Vitals.PainLevel)
	fmt.Fprintf(b, "- Triage Level: %d (%s)\n", r.TriageLevel, r.TriageLevel.Label())
}

func symptomsPrompt(r *patient.Record) string {
	var b strings.Builder
	b.WriteString("Based on the patient data provided, write a 4-5 sentence summary of the patient's symptoms and condition.\n\n")
	writePatient(&b, r)
	b.WriteString("\nGive a clinical assessment of the symptoms and current condition. ")
	b.WriteString("Focus on what the vital signs and complaint suggest about the patient's health status.")
	return b.String()
}

func treatmentPrompt(r *patient.Record) string {
	var b strings.Builder
	b.WriteString("Based on the patient data provided, write a 4-5 sentence summary of recommended treatment options and next steps.\n\n")
	writePatient(&b, r)
	fmt.Fprintf(&b, "- Medical History: %s\n", listOrNone(r.MedicalHistory))
	fmt.Fprintf(&b, "- Medications: %s\n", listOrNone(r.Medications))
	fmt.Fprintf(&b, "- Allergies: %s\n", listOrNone(r.Allergies))
	b.WriteString("\nRecommend medications, procedures or interventions, taking allergies into account. ")
	b.WriteString("Separate immediate care from ongoing care.")
	return b.String()
}

func queuePrompt(queue []*patient.Record, st *patient.Stats) string {
	var b strings.Builder
	b.WriteString("Based on the current queue, write a 2-paragraph summary (8-10 sentences total) on managing the queue and the nursing team.\n\n")

	b.WriteString("Current Queue Status:\n")
	if st != nil {
		fmt.Fprintf(&b, "- Total Patients: %d\n", st.Total)
		fmt.Fprintf(&b, "- Waiting: %d of %d staffed places (%d%%)\n", st.TotalWaiting, st.Capacity, st.QueueLoadPercent)
		fmt.Fprintf(&b, "- Critical (levels 1-2): %d\n", st.CriticalCount)
		fmt.Fprintf(&b, "- Average Wait: %d minutes\n", st.AvgWaitMinutes)
	}

	b.WriteString("\nPatients in Queue:\n")
	if len(queue) == 0 {
		b.WriteString("- none\n")
	}
	for _, r := range queue {
		fmt.Fprintf(&b, "- %s (%s, Pain: %d/10, %s)\n", r.Name, r.TriageLevel.Label(), r.Vitals.PainLevel, r.Status)
	}

	b.WriteString("\nFirst paragraph: immediate prioritization, naming the highest-priority patients and their triage levels, ")
	b.WriteString("and how to balance critical against non-urgent cases and wait times.\n")
	b.WriteString("Second paragraph: nursing team management, resource allocation and staffing for the current load.\n")
	b.WriteString("Be specific and actionable.")
	return b.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none reported"
	}
	return strings.Join(items, ", ")
}
