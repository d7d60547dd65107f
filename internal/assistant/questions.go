package assistant

import (
	"regexp"
	"strconv"
	"strings"
)

// Question is one step of the intake questionnaire.
type Question struct {
	ID     string
	Text   string
	parse  func(answer string) (string, bool)
	reject string
}

// Question IDs, in the order they are asked.
const (
	QName      = "name"
	QAge       = "age"
	QGender    = "gender"
	QSymptoms  = "symptoms"
	QBleeding  = "bleeding"
	QBreathing = "breathing"
	QChestPain = "chest_pain"
	QMobility  = "mobility"
)

const (
	answerYes = "Yes"
	answerNo  = "No"
)

// Questions is the fixed questionnaire.
var Questions = []Question{
	{
		ID:     QName,
		Text:   "Hi, I'm the emergency department triage assistant. I'll ask a few questions to assess your condition. What is your name?",
		parse:  parseName,
		reject: "Please tell me your name using letters only.",
	},
	{
		ID:     QAge,
		Text:   "What is your age?",
		parse:  parseAge,
		reject: "Please give your age as a number between 0 and 150.",
	},
	{
		ID:     QGender,
		Text:   "What is your gender? Please say male, female, or other.",
		parse:  parseGender,
		reject: "Please say male, female, or other.",
	},
	{
		ID:     QSymptoms,
		Text:   "Please describe your main symptoms and what brought you here today.",
		parse:  parseSymptoms,
		reject: "Please describe your symptoms in a little more detail.",
	},
	{
		ID:     QBleeding,
		Text:   "Are you currently bleeding from any wounds? Please answer yes or no.",
		parse:  parseYesNo,
		reject: "Please answer yes or no.",
	},
	{
		ID:     QBreathing,
		Text:   "Are you having trouble breathing? Please answer yes or no.",
		parse:  parseYesNo,
		reject: "Please answer yes or no.",
	},
	{
		ID:     QChestPain,
		Text:   "Are you experiencing chest pain? Please answer yes or no.",
		parse:  parseYesNo,
		reject: "Please answer yes or no.",
	},
	{
		ID:     QMobility,
		Text:   "Are you able to walk without assistance? Please answer yes or no.",
		parse:  parseYesNo,
		reject: "Please answer yes or no.",
	},
}

var (
	punctuation = regexp.MustCompile(`[.,!?;:]`)
	lettersOnly = regexp.MustCompile(`^[A-Za-z\s]+$`)
	digits      = regexp.MustCompile(`\d+`)
)

const minSymptomsLen = 10

func parseName(answer string) (string, bool) {
	cleaned := strings.TrimSpace(punctuation.ReplaceAllString(answer, ""))
	if len(cleaned) < 2 || !lettersOnly.MatchString(cleaned) {
		return "", false
	}
	words := strings.Fields(cleaned)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " "), true
}

func parseAge(answer string) (string, bool) {
	m := digits.FindString(answer)
	if m == "" || len(m) > 3 {
		return "", false
	}
	age, err := strconv.Atoi(m)
	if err != nil || age > 150 {
		return "", false
	}
	return strconv.Itoa(age), true
}

func parseGender(answer string) (string, bool) {
	lower := strings.ToLower(answer)
	switch {
	case strings.Contains(lower, "female"):
		return "Female", true
	case strings.Contains(lower, "male"):
		return "Male", true
	case strings.Contains(lower, "other"), strings.Contains(lower, "non-binary"), strings.Contains(lower, "nonbinary"):
		return "Other", true
	}
	return "", false
}

func parseSymptoms(answer string) (string, bool) {
	cleaned := strings.Join(strings.Fields(answer), " ")
	if len(cleaned) < minSymptomsLen {
		return "", false
	}
	return cleaned, true
}

var (
	yesWords = map[string]bool{"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true, "definitely": true, "y": true}
	noWords  = map[string]bool{"no": true, "nope": true, "nah": true, "not": true, "n": true}
)

// parseYesNo matches whole words; an affirmative word wins over a negative one.
func parseYesNo(answer string) (string, bool) {
	words := strings.Fields(strings.ToLower(punctuation.ReplaceAllString(answer, " ")))
	sawNo := false
	for _, w := range words {
		if yesWords[w] {
			return answerYes, true
		}
		if noWords[w] {
			sawNo = true
		}
	}
	if sawNo {
		return answerNo, true
	}
	return "", false
}
