package summarizer

// defaultSystemPrompt steers the model toward dense extractive-style
// summaries in the 30-40% compression band the pipeline targets.
const defaultSystemPrompt = `You are an expert summarizer. Produce a ` +
	`concise, accurate summary of the text you are given.

Guidelines:
- Aim for roughly 30-40% of the original length.
- Preserve the key facts, names, figures, and conclusions.
- Keep the original's tone and technical level.
- Write in complete sentences; do not use bullet points unless the ` +
	`original does.
- Do not add commentary, opinions, or information not present in the ` +
	`original.
- Respond with the summary only, no preamble or closing remarks.`

// buildUserPrompt wraps the submitted text for the model. The text is
// passed as-is; size bounds were already enforced at submission.
func buildUserPrompt(text string) string {
	return "Summarize the following text:\n\n" + text
}
