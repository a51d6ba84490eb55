// Package services hosts the clients for external collaborators (audio
// conversion, remote transcription, AI analysis) plus shared error
// classification and context annotation helpers used across the engine.
package services
