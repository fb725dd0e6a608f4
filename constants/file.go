package constants

import "strings"

// FileFormats for artifacts attached to a study.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
)

// AllowedExtensions holds the extensions accepted at upload.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// extToMIME maps whitelisted extensions to the MIME type used when
// serving the artifact back.
var extToMIME = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtensionAllowed reports whether the (normalized) extension is whitelisted.
func ExtensionAllowed(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// MapExtToFormat classifies a normalized extension as PDF or IMAGE.
// Returns "" for anything outside the whitelist.
func MapExtToFormat(ext string) string {
	ext = NormalizeExt(ext)
	if ext == "pdf" {
		return PDF
	}
	if _, ok := AllowedExtensions[ext]; ok {
		return IMAGE
	}
	return ""
}

// MIMEForExt returns the serving MIME type for a whitelisted extension,
// falling back to application/octet-stream.
func MIMEForExt(ext string) string {
	if m, ok := extToMIME[NormalizeExt(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}
