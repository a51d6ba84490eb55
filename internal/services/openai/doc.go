// Package openai wraps the background-response analysis API used for the
// session-wide collective phase: job submission over the combined transcript,
// status polling with bounded retry, and hardened decoding of the structured
// insights the model returns.
package openai
