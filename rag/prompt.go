package rag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const DefaultCourse = "web development course"

// NoContextMarker starts the context block of a prompt rendered without results.
const NoContextMarker = "No video subtitle chunk relevant to the question was found."

// PromptBuilder renders retrieved passages and a question into the prompt sent
// to the generator.
type PromptBuilder struct {
	Course string
}

type promptRecord struct {
	Number string  `json:"number"`
	Title  string  `json:"title"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Text   string  `json:"text"`
}

// Render keeps results in the order given.
func (b PromptBuilder) Render(query string, results []SearchResult) string {
	course := b.Course
	if course == "" {
		course = DefaultCourse
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "I am teaching in my %s.\n", course)

	if len(results) == 0 {
		sb.WriteString(NoContextMarker + "\n")
	} else {
		sb.WriteString("Here are video subtitle chunks containing:\n")
		sb.WriteString("- video number\n- video title\n- start time in seconds\n- end time in seconds\n- the text at that time\n\n")
		sb.WriteString(renderRecords(results))
	}

	sb.WriteString("\n-------------------------------------------------\n")
	fmt.Fprintf(&sb, "User question:\n%q\n\n", query)

	if len(results) == 0 {
		sb.WriteString("You are an assistant for this course. The search found no part of any course video\n")
		sb.WriteString("that covers this question. Tell the user you could not find it in the course.\n")
		sb.WriteString("Do not make up a video number, title or timestamp.\n")
	} else {
		sb.WriteString("You are an assistant for this course. Based on the video chunks above, answer\n")
		sb.WriteString("in a human, conversational way (do not mention the format above). Clearly mention:\n")
		sb.WriteString("- in which video (by number and title)\n")
		sb.WriteString("- at what timestamps (start-end in seconds)\n")
		sb.WriteString("the relevant content is taught.\n\n")
		sb.WriteString("Guide the user to watch the correct part of the correct video.\n")
	}
	sb.WriteString("\nIf the user asks something unrelated to the course, say that you can only\n")
	sb.WriteString("answer questions related to the course.\n")

	return sb.String()
}

func renderRecords(results []SearchResult) string {
	records := make([]promptRecord, len(results))
	for i, r := range results {
		p := r.Passage
		records[i] = promptRecord{
			Number: p.RecordingNumber,
			Title:  p.Title,
			Start:  p.Start,
			End:    p.End,
			Text:   p.Text,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// a slice of plain structs always encodes
	_ = enc.Encode(records)
	return buf.String()
}
