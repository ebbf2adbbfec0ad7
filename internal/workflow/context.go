package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// BuildWorkflowContextForAI renders the plain-text briefing handed to the
// conversational agents. Output must stay byte-stable for the same view.
func BuildWorkflowContextForAI(view EffectiveWorkflow) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Workflow: %s\n", view.Name)
	fmt.Fprintf(&b, "Version: %d\n", view.VersionNumber)

	if view.HasOverride && view.Override != nil {
		b.WriteString("NOTE: An admin has corrected the AI-derived version of this workflow.")
		if view.Override.AccuracyRating != nil {
			fmt.Fprintf(&b, " Accuracy rating: %d/5.", *view.Override.AccuracyRating)
		}
		if feedback := strings.TrimSpace(view.Override.AccuracyFeedback); feedback != "" {
			fmt.Fprintf(&b, " Reason: %s", feedback)
		}
		b.WriteString("\n")
	}

	grouped := make(map[NoteType][]string)
	for _, note := range view.OwnerNotes {
		if !note.IsActive || note.Visibility == VisibilityAdmins {
			continue
		}
		grouped[note.NoteType] = append(grouped[note.NoteType], strings.TrimSpace(note.Content))
	}
	if len(grouped) > 0 {
		types := make([]string, 0, len(grouped))
		for t := range grouped {
			types = append(types, string(t))
		}
		sort.Strings(types)
		b.WriteString("Owner notes:\n")
		for _, t := range types {
			fmt.Fprintf(&b, "  [%s]\n", t)
			for _, content := range grouped[NoteType(t)] {
				fmt.Fprintf(&b, "  - %s\n", content)
			}
		}
	}

	structure := view.EffectiveStructure
	if len(structure.Steps) == 0 {
		b.WriteString("Steps: none recorded\n")
	} else {
		b.WriteString("Steps:\n")
		for i, step := range structure.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}

	if len(structure.Tools) == 0 {
		b.WriteString("Tools: none recorded\n")
	} else {
		fmt.Fprintf(&b, "Tools: %s\n", strings.Join(structure.Tools, ", "))
	}

	if structure.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", structure.Notes)
	}
	return b.String()
}
