package cmd

import (
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/modelrepo/internal/llm"
	"github.com/joescharf/modelrepo/internal/sessions"
)

// newSuggester creates the commit message suggester from config/env, or
// returns nil if no API key is configured.
func newSuggester() sessions.Suggester {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}
