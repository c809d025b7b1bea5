// Package model defines the provider-neutral chat types, the streaming Model
// interface, and the dual-role Router that orchestrates them.
//
// Providers (ollama, openai, anthropic) adapt their SDKs to the Model
// interface: Generate returns a lazy channel of response chunks and an error
// channel, both closed when the sequence ends. The Router holds one Model per
// role (Orchestrator for action selection, Executor for content generation),
// applies per-role generation options, retries transient transport failures
// with bounded backoff, and parses orchestrator output into structured
// decisions with a single corrective re-prompt for malformed tool calls.
package model
