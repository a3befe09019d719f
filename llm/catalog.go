package llm

// ModelInfo describes the models a provider accepts
type ModelInfo struct {
	Provider     ProviderName `json:"provider"`
	DefaultModel string       `json:"default_model"`
	Models       []string     `json:"models"`
	Configured   bool         `json:"configured"`
}

var catalog = map[ProviderName][]string{
	ProviderGoogle: {"gemini-2.5-flash", "gemini-1.5-flash", "gemini-pro"},
	ProviderOpenAI: {"gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"},
	ProviderOllama: {"llama3.1:8b", "llama3.1:70b", "mistral:7b"},
}

// DefaultModel returns the first catalog entry for a provider
func DefaultModel(p ProviderName) string {
	models := catalog[p]
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

// ValidModel reports whether model is accepted for provider
func ValidModel(p ProviderName, model string) bool {
	for _, m := range catalog[p] {
		if m == model {
			return true
		}
	}
	return false
}

// ResolveModel maps an empty model to the provider default and rejects unknown ones
func ResolveModel(p ProviderName, model string) (string, bool) {
	if model == "" {
		return DefaultModel(p), true
	}
	return model, ValidModel(p, model)
}
