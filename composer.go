package askdb

import "strings"

const fallbackAnswerText = "I was unable to produce an answer for this query."

// Compose turns a final answer and the transcript into the wire-level
// response. It is a pure function and never fails: an empty answer falls
// back to a fixed sentence, and artifact links the answer text does not
// already mention are appended so every rendered chart stays reachable.
func Compose(answer FinalAnswer, transcript *Transcript) Response {
	text := strings.TrimSpace(answer.Text)
	if text == "" {
		text = fallbackAnswerText
	}

	for _, art := range answer.Artifacts {
		link := art.URL
		if link == "" {
			link = art.Path
		}
		if link == "" {
			continue
		}
		if strings.Contains(text, link) {
			continue
		}
		text += "\n\nChart: " + link
	}

	var toolsUsed string
	if transcript != nil {
		toolsUsed = strings.Join(transcript.ToolsUsed(), ", ")
	}

	return Response{Response: text, ToolsUsed: toolsUsed}
}
