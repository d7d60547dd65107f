package assistant

import (
	"strconv"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

// Urgency weights in tenths so level thresholds compare exactly.
const (
	baseUrgency      = 3
	bleedingWeight   = 4
	breathingWeight  = 4
	chestPainWeight  = 3
	immobileWeight   = 3
	elderlyWeight    = 1
	youngChildWeight = 2
	maxUrgency       = 10
)

// Urgency scores answers on a 0..1 scale in steps of 0.1.
func Urgency(answers map[string]string) float64 {
	return float64(urgencyTenths(answers)) / 10
}

func urgencyTenths(answers map[string]string) int {
	score := baseUrgency
	if answers[QBleeding] == answerYes {
		score += bleedingWeight
	}
	if answers[QBreathing] == answerYes {
		score += breathingWeight
	}
	if answers[QChestPain] == answerYes {
		score += chestPainWeight
	}
	if answers[QMobility] == answerNo {
		score += immobileWeight
	}
	if age, err := strconv.Atoi(answers[QAge]); err == nil {
		switch {
		case age > 65:
			score += elderlyWeight
		case age < 5:
			score += youngChildWeight
		}
	}
	return min(score, maxUrgency)
}

// LevelFor maps an urgency score onto the triage scale.
func LevelFor(answers map[string]string) patient.TriageLevel {
	switch s := urgencyTenths(answers); {
	case s >= 8:
		return patient.LevelResuscitation
	case s >= 6:
		return patient.LevelEmergent
	case s >= 4:
		return patient.LevelUrgent
	case s >= 2:
		return patient.LevelLessUrgent
	default:
		return patient.LevelNonUrgent
	}
}
