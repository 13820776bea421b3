// Package emotion classifies free text into one coarse emotion label.
//
// Classification is purely lexical: the text is lower-cased and scanned for
// curated keywords. There is no model, no state, and no I/O.
package emotion

import "strings"

// Label is a coarse emotion classification result.
type Label string

const (
	Neutral Label = "neutral"
	Anxiety Label = "anxiety"
	Sadness Label = "sadness"
	Anger   Label = "anger"
	Joy     Label = "joy"
)

// Scored lists the labels that carry a keyword set, in tie-break order.
// Neutral is never scored; it is the result when nothing matches.
var Scored = []Label{Anxiety, Sadness, Anger, Joy}

var keywords = map[Label][]string{
	Anxiety: {
		"anxious", "worried", "nervous", "stressed", "panic", "overwhelmed",
		"scared", "afraid", "fearful", "tense", "restless", "uneasy",
		"can't sleep", "racing thoughts", "heart racing", "sweating",
		"what if", "catastrophic", "doom", "dread",
	},
	Sadness: {
		"sad", "depressed", "down", "low", "empty", "hopeless", "lonely",
		"isolated", "worthless", "defeated", "broken", "lost", "numb",
		"crying", "tears", "grief", "mourning", "devastated", "heartbroken",
		"can't get out of bed", "no energy", "pointless",
	},
	Anger: {
		"angry", "mad", "furious", "rage", "frustrated", "irritated",
		"annoyed", "pissed", "livid", "outraged", "resentful", "bitter",
		"hate", "disgusted", "fed up", "can't stand", "infuriating",
		"want to scream", "boiling", "explosive",
	},
	Joy: {
		"happy", "joyful", "excited", "elated", "cheerful", "content",
		"pleased", "delighted", "thrilled", "ecstatic", "overjoyed",
		"grateful", "blessed", "amazing", "wonderful", "fantastic",
		"love", "peaceful", "calm", "serene", "optimistic",
	},
}

// Classify returns the label whose keyword set has the most distinct
// substring matches in text. Ties go to the earlier label in Scored.
// Text with no matches, including empty text, is Neutral.
func Classify(text string) Label {
	normalized := Normalize(text)
	if strings.TrimSpace(normalized) == "" {
		return Neutral
	}

	best, bestScore := Neutral, 0
	for _, label := range Scored {
		if score := score(normalized, label); score > bestScore {
			best, bestScore = label, score
		}
	}
	return best
}

// Scores returns the distinct-keyword match count for every scored label.
func Scores(text string) map[Label]int {
	normalized := Normalize(text)
	scores := make(map[Label]int, len(Scored))
	for _, label := range Scored {
		scores[label] = score(normalized, label)
	}
	return scores
}

// Normalize lower-cases text and folds typographic apostrophes so that
// keywords such as "can't" match text typed on mobile keyboards.
func Normalize(text string) string {
	return strings.ReplaceAll(strings.ToLower(text), "’", "'")
}

// IsValid reports whether l is one of the five known labels.
func IsValid(l Label) bool {
	switch l {
	case Neutral, Anxiety, Sadness, Anger, Joy:
		return true
	default:
		return false
	}
}

func score(normalized string, label Label) int {
	n := 0
	for _, kw := range keywords[label] {
		if strings.Contains(normalized, kw) {
			n++
		}
	}
	return n
}
