package reminders

import (
	"strings"

	"github.com/jghoshh/goalnudge/backend/models"
)

// FirstSlotMessage is always used for the first slot when falling back.
const FirstSlotMessage = "Still messing around? Better hop to it!"

type bucket int

const (
	bucketMorning bucket = iota
	bucketMidday
	bucketAfternoon
)

var bucketKeywords = []struct {
	bucket   bucket
	keywords []string
}{
	{bucketMorning, []string{"morning", "start", "wake", "early"}},
	{bucketMidday, []string{"midday", "noon", "lunch", "check-in"}},
	{bucketAfternoon, []string{"afternoon", "finish", "push", "evening", "night"}},
}

// Templates take the goal name for {goal} and the kind emoji for {emoji}.
var templates = map[bucket][]string{
	bucketMorning: {
		"{emoji} Rise and shine. \"{goal}\" isn't going to do itself.",
		"{emoji} Coffee first, then \"{goal}\". That's the deal.",
		"{emoji} Early bird gets \"{goal}\" done. Be the bird.",
	},
	bucketMidday: {
		"{emoji} Half the day is gone. How's \"{goal}\" going? Thought so.",
		"{emoji} Lunch break is the perfect excuse to knock out \"{goal}\".",
		"{emoji} Midday check: \"{goal}\" is still waiting on you.",
	},
	bucketAfternoon: {
		"{emoji} The afternoon slump is real, and so is \"{goal}\".",
		"{emoji} Last call for \"{goal}\". Future you is watching.",
		"{emoji} Finish strong. \"{goal}\" won't finish itself.",
	},
}

func (g *Generator) fallback(name string, kind models.GoalKind, slots []models.Slot) []string {
	messages := make([]string, len(slots))
	for i, slot := range slots {
		if i == 0 {
			messages[i] = FirstSlotMessage
			continue
		}
		options := templates[bucketFor(slot)]
		messages[i] = render(options[g.pick(len(options))], name, kind)
	}
	return messages
}

// bucketFor matches the slot label against the keyword buckets and falls
// back to the slot hour when nothing matches.
func bucketFor(slot models.Slot) bucket {
	label := strings.ToLower(slot.Label)
	for _, bk := range bucketKeywords {
		for _, kw := range bk.keywords {
			if strings.Contains(label, kw) {
				return bk.bucket
			}
		}
	}
	switch {
	case slot.Hour < 12:
		return bucketMorning
	case slot.Hour < 14:
		return bucketMidday
	default:
		return bucketAfternoon
	}
}

func render(template, name string, kind models.GoalKind) string {
	return strings.NewReplacer("{goal}", name, "{emoji}", kind.Emoji()).Replace(template)
}
