package workflow

// ApplyOverrides returns the structure with payload applied. The order is
// fixed: remove, rename, append, then tool substitution and notes. base is
// not modified.
func ApplyOverrides(base Structure, payload OverridePayload) Structure {
	out := Structure{
		DataSources: cloneStrings(base.DataSources),
		Roles:       cloneStrings(base.Roles),
		Duration:    base.Duration,
		Frequency:   base.Frequency,
		Notes:       base.Notes,
	}

	removed := make(map[string]struct{}, len(payload.RemovedSteps))
	for _, step := range payload.RemovedSteps {
		removed[step] = struct{}{}
	}
	steps := make([]string, 0, len(base.Steps)+len(payload.AddedSteps))
	for _, step := range base.Steps {
		if _, drop := removed[step]; drop {
			continue
		}
		if renamed, ok := payload.RenamedSteps[step]; ok {
			step = renamed
		}
		steps = append(steps, step)
	}
	steps = append(steps, payload.AddedSteps...)
	if len(steps) > 0 {
		out.Steps = steps
	}

	if len(base.Tools) > 0 {
		tools := make([]string, 0, len(base.Tools))
		for _, tool := range base.Tools {
			if replacement, ok := payload.ToolSubstitutions[tool]; ok {
				tool = replacement
			}
			tools = append(tools, tool)
		}
		out.Tools = tools
	}

	if payload.CustomNotes != "" {
		out.Notes = payload.CustomNotes
	}
	return out
}

// IsEmpty reports whether the payload would change nothing.
func (p OverridePayload) IsEmpty() bool {
	return len(p.RenamedSteps) == 0 &&
		len(p.RemovedSteps) == 0 &&
		len(p.AddedSteps) == 0 &&
		len(p.ToolSubstitutions) == 0 &&
		p.CustomNotes == ""
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
