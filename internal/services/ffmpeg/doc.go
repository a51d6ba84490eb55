// Package ffmpeg converts uploaded audio recordings to MP3 by shelling out to
// ffmpeg. Codec and format failures are classified separately from transient
// failures so the workflow can route them to the dedicated conversion-failure
// state.
package ffmpeg
