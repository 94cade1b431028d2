package config

// SecretPaths returns the full set of known secret JSON Pointer paths.
// These never appear in the document itself, are excluded from Rev,
// and are rejected by Patch if targeted directly.
func SecretPaths() []string {
	return []string{
		"/ai/secrets/apiKey",
		"/ai/secrets/awsAccessKeyId",
		"/ai/secrets/awsSecretAccessKey",
		"/embedding/secrets/apiKey",
		"/tools/webSearch/secrets/braveApiKey",
		"/tools/webAnswer/secrets/perplexityApiKey",
		"/tools/webAnswer/secrets/openRouterApiKey",
		"/channels/matrix/secrets/accessToken",
		"/channels/discord/secrets/botToken",
		"/channels/telegram/secrets/botToken",
		"/stt/secrets/awsAccessKeyId",
		"/stt/secrets/awsSecretAccessKey",
	}
}

// AISecretPaths is the subset of SecretPaths whose mutation should
// trigger a provider rebuild, per the hot-swap coordinator's rebuild
// path table.
func AISecretPaths() []string {
	return []string{
		"/ai/secrets/apiKey",
		"/ai/secrets/awsAccessKeyId",
		"/ai/secrets/awsSecretAccessKey",
	}
}

// ToolSecretPaths is the subset of SecretPaths whose mutation should
// trigger a tool registry rebuild (Brave, Perplexity, OpenRouter).
func ToolSecretPaths() []string {
	return []string{
		"/tools/webSearch/secrets/braveApiKey",
		"/tools/webAnswer/secrets/perplexityApiKey",
		"/tools/webAnswer/secrets/openRouterApiKey",
	}
}

func isSecretPath(path string) bool {
	for _, p := range SecretPaths() {
		if p == path {
			return true
		}
	}
	return false
}
