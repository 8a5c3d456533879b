package llm

import (
	"fmt"
	"strings"
)

// analysisPrompt drives the combined classification + status + quality call.
// [ME] marks the user's messages, [PROSPECT] the counterpart's.
const analysisPrompt = `Analyze this conversation. [ME] is the user, [PROSPECT] is the other person.

TASK 1 - COLD OUTREACH CHECK:
Is this cold outreach by [ME]? TRUE only if: [ME] sent the first message AND it's a sales/business development purpose.
FALSE if: [PROSPECT] messaged first, OR it's personal/job-related/casual.

TASK 2 - If cold outreach, analyze:
A) PROSPECT STATUS (based on [PROSPECT]'s behavior only):
- no_response: [PROSPECT] never replied
- engaged: Active back-and-forth ongoing
- interested: [PROSPECT] shows positive interest in the offer
- meeting_scheduled: [PROSPECT] agreed to a meeting/call
- not_interested: [PROSPECT] explicitly declined
- wrong_person: [PROSPECT] redirected to someone else
- ghosted: [PROSPECT] replied before, then stopped (2+ unanswered follow-ups)
- closed: Conversation concluded naturally

B) OUTREACH QUALITY (score 0-100, most score 40-60):
- Personalization: Research shown?
- Value Proposition: Clear benefit?
- Call to Action: Low-friction ask?
- Tone: Professional but human?
- Brevity: Concise? (50-150 words ideal)
- Originality: Genuine or template-y?

If NOT cold outreach, set all prospect/outreach fields to null.

Respond with a single JSON object using exactly these keys: is_cold_outreach,
cold_outreach_reasoning, prospect_status, prospect_status_confidence (0-1),
prospect_status_reasoning, outreach_score, outreach_personalization,
outreach_value_proposition, outreach_call_to_action, outreach_tone,
outreach_brevity, outreach_originality, outreach_feedback,
improvement_suggestions (array of strings).`

const labelExampleMaxChars = 300

// labelingPrompt asks for a short name, description, and generalized pattern
// for a cluster of similar openers.
func labelingPrompt(examples []string) string {
	var sb strings.Builder

	sb.WriteString("Analyze these cold outreach opener messages and identify their common pattern/approach.\n\nMESSAGES:\n")

	for i, example := range examples {
		sb.WriteString(fmt.Sprintf("%d. %q\n", i+1, truncate(example, labelExampleMaxChars)))
	}

	sb.WriteString(`
Respond in JSON format:
{
  "label": "Short 2-4 word label for this opener style (e.g., 'Compliment + Hook', 'Mutual Connection', 'Direct Value Prop')",
  "description": "One sentence describing the approach and what makes it distinctive",
  "pattern": "The template pattern with [PLACEHOLDER] for personalized parts"
}`)

	return sb.String()
}
