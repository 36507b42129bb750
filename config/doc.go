// Package config loads the application configuration for lessonrag.
//
// Values are resolved in order: built-in defaults, then an optional YAML
// file, then LESSONRAG_* environment variables. The API key additionally
// falls back to OPENAI_API_KEY and GEMINI_API_KEY. Call Validate before use.
package config
