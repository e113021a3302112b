package translate

import (
	"fmt"

	"github.com/loqalabs/loqa-caption/internal/language"
)

// BuildPrompt renders the single instruction sent to the chat model. Unknown
// codes fall back to generic wording so the request still reads naturally.
func BuildPrompt(table *language.Table, text string, source, target language.Code) string {
	sourceName := table.Name(source, language.FallbackSource)
	targetName := table.Name(target, language.FallbackTarget)
	return fmt.Sprintf("Translate the following text accurately from %s to %s. "+
		"Provide ONLY the translated text, without any additional explanations, introductions, or conversational phrases. "+
		"If the input is a name or a term that should not be translated, return it as is or provide the common equivalent in the target language. "+
		"Preserve the original meaning and tone as much as possible.\n\nText to translate: \"%s\"", sourceName, targetName, text)
}
