// Package textutil sanitizes user-supplied names for safe filesystem use.
// Uploaded recordings keep their original filename through staging and
// artifact output, so unsafe characters are stripped or replaced before the
// name touches a path.
package textutil
