package nudge

import "strings"

// Engagement strategies. Each entry is a natural-language prompt the model
// turns into a spoken opener. %TOPIC% is replaced with the topic hint when
// one is remembered.
var idleStrategies = []string{
	"System Notification: The user has been quiet for a while. Start a light conversation naturally, as if the thought just occurred to you.",
	"System Notification: It has been silent for a bit. Ask the user a casual open question about their day.",
	"System Notification: The user went quiet. Earlier they mentioned \"%TOPIC%\" - bring it up naturally if it fits, otherwise pick something you genuinely wonder about.",
	"System Notification: Long silence. Share a short observation or thought of your own to restart the conversation. Keep it to one or two sentences.",
}

var screenStrategies = []string{
	"System Notification: The user has been quietly working on screen for a while. Comment briefly on what you can see them doing, or ask how it is going.",
	"System Notification: Silence while screen sharing. If what is on screen looks difficult, offer a small piece of help or encouragement. Keep it short.",
}

func (s *Scheduler) buildMessage(st State, topicHint string) string {
	pool := idleStrategies
	if st.ScreenMode {
		pool = screenStrategies
	}

	msg := pool[s.pick(len(pool))]

	if strings.Contains(msg, "%TOPIC%") {
		if topicHint == "" {
			// Fall back to the first, topic-free strategy.
			msg = pool[0]
		} else {
			msg = strings.ReplaceAll(msg, "%TOPIC%", topicHint)
		}
	}

	if st.Mood != "" {
		msg += " Your current mood is: " + st.Mood + "."
	}
	msg += " Speak now."
	return msg
}
