package prompt

// Variables bound when rendering the system prompt
const (
	VarSourceLanguage = "source_language"
	VarTargetLanguage = "target_language"
	VarSpecialTokens  = "special_tokens"
)

// Variables bound when rendering the per-chunk user prompt
const (
	VarPreviousChunks = "previous_chunks"
	VarSourceText     = "source_text"
)

// SystemVariables and UserVariables are what each prompt may read
var (
	SystemVariables = []string{VarSourceLanguage, VarTargetLanguage, VarSpecialTokens}
	UserVariables   = []string{VarPreviousChunks, VarSourceText}
)

// DefaultSystemPrompt is used when a job is created without a system prompt
const DefaultSystemPrompt = `You are an expert translator. Please translate {{ source_language }} into {{ target_language }}. The user will submit sentences or paragraphs with some contexts; please only translate the intended text into {{ target_language }}.

- If there are symbols {{ special_tokens | join(" , ") }}, keep the symbol intact on the result text in the correct position.
- Do not give any alternative translation or including any previous context, notes or discussion.`

// DefaultUserPrompt is used when a job is created without a user prompt. It
// shows up to eight previous chunks as context before the chunk to translate.
const DefaultUserPrompt = `{%- set previous_chunks = previous_chunks[-8:] -%}
{%- if previous_chunks -%}
Given the previous context:

{{ previous_chunks | join("\n\n") }}

Only translate the following text:

{% endif -%}
{{ source_text }}`

// SystemVars builds the variables for a system prompt
func SystemVars(sourceLang, targetLang string, specialTokens []string) Vars {
	if specialTokens == nil {
		specialTokens = []string{}
	}
	return Vars{
		VarSourceLanguage: sourceLang,
		VarTargetLanguage: targetLang,
		VarSpecialTokens:  specialTokens,
	}
}

// UserVars builds the variables for a user prompt
func UserVars(previousChunks []string, sourceText string) Vars {
	if previousChunks == nil {
		previousChunks = []string{}
	}
	return Vars{
		VarPreviousChunks: previousChunks,
		VarSourceText:     sourceText,
	}
}
