package alerts

import "sort"

var coachingTemplates = map[AlertType][]CoachingSuggestion{
	TypeLowParticipation: {
		{Action: "Remind the team why check-ins matter and how results are used", Reason: "People skip check-ins when they cannot see what changes because of them", Effort: EffortLow, Priority: 1},
		{Action: "Share one concrete change that came from recent check-in feedback", Reason: "Visible follow-through is the strongest driver of continued participation", Effort: EffortMedium, Priority: 2},
		{Action: "Move the check-in prompt to a quieter time of the week", Reason: "Prompts that land during peak workload are the first thing dropped", Effort: EffortLow, Priority: 3},
	},
	TypeHighFriction: {
		{Action: "Review the friction variants with the workflow owners", Reason: "Owners can confirm whether the variant is a workaround for a real gap", Effort: EffortMedium, Priority: 1},
		{Action: "Document the canonical path for the most common friction variant", Reason: "Unclear instructions are the usual source of divergent workflows", Effort: EffortMedium, Priority: 2},
		{Action: "Remove or replace the tool step people keep working around", Reason: "Repeated workarounds point at a tool that no longer fits the job", Effort: EffortHigh, Priority: 3},
	},
	TypeSentimentDrop: {
		{Action: "Hold short one-on-ones focused on what has changed recently", Reason: "A drop in sentiment usually has a specific recent cause", Effort: EffortMedium, Priority: 1},
		{Action: "Acknowledge the dip openly in the next team meeting", Reason: "Naming the trend signals that feedback is being heard", Effort: EffortLow, Priority: 2},
		{Action: "Check whether recent org or process changes were communicated clearly", Reason: "Unexplained change is a common driver of low sentiment", Effort: EffortLow, Priority: 3},
	},
	TypeWorkloadSpike: {
		{Action: "Review current commitments and defer the lowest-value work", Reason: "Sustained overload erodes quality and morale quickly", Effort: EffortMedium, Priority: 1},
		{Action: "Rebalance assignments across the team for the next cycle", Reason: "Workload spikes are often concentrated on a few people", Effort: EffortMedium, Priority: 2},
		{Action: "Raise staffing or scope concerns with leadership", Reason: "Persistent spikes usually need a structural fix", Effort: EffortHigh, Priority: 3},
	},
	TypeBurnoutRisk: {
		{Action: "Check in individually with people reporting high burnout risk", Reason: "Early personal contact is the most effective burnout intervention", Effort: EffortMedium, Priority: 1},
		{Action: "Protect recovery time by pausing non-essential meetings", Reason: "Meeting load is the quickest lever to give people time back", Effort: EffortLow, Priority: 2},
		{Action: "Make sure time off is being taken and covered", Reason: "Unused leave is a leading indicator of burnout", Effort: EffortLow, Priority: 3},
		{Action: "Review on-call and after-hours expectations", Reason: "Always-on expectations are a frequent root cause", Effort: EffortHigh, Priority: 4},
	},
	TypeFocusDrift: {
		{Action: "Restate the team's top priorities for the period", Reason: "Focus drifts when priorities are ambiguous or competing", Effort: EffortLow, Priority: 1},
		{Action: "Introduce protected focus blocks on the team calendar", Reason: "Fragmented time makes deep work impossible", Effort: EffortLow, Priority: 2},
		{Action: "Audit incoming requests and route them through one channel", Reason: "Unfiltered interruptions are the main cause of context switching", Effort: EffortMedium, Priority: 3},
	},
	TypeProcessVariance: {
		{Action: "Compare how different people describe the same workflow", Reason: "Large variance means there is no shared understanding of the process", Effort: EffortMedium, Priority: 1},
		{Action: "Agree on a canonical version and mark accepted variants", Reason: "Explicitly allowed variants stop being counted as friction", Effort: EffortMedium, Priority: 2},
		{Action: "Schedule a walkthrough of the agreed process", Reason: "A shared walkthrough aligns new and existing team members", Effort: EffortLow, Priority: 3},
	},
}

// CoachingFor returns a copy of the suggestions for an alert type, ordered by
// ascending priority.
func CoachingFor(alertType AlertType) []CoachingSuggestion {
	template := coachingTemplates[alertType]
	out := make([]CoachingSuggestion, len(template))
	copy(out, template)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
