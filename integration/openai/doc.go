// Package openai answers free-form user messages that do not match any
// known command. The responder wraps the OpenAI chat completions API
// with a system prompt that keeps answers on the topic of Bitcoin
// savings, and degrades to a fixed help hint when the API key is
// missing or the call fails.
package openai
