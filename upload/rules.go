package upload

import "regexp"

// Default limits for the reference configuration. Both are overridable via
// Config (and in the gateway binary via environment variables).
const (
	DefaultMaxFileSize int64 = 10 << 20 // 10 MiB
	DefaultMaxFiles          = 5

	// DefaultMaxScanBytes bounds how much of a payload the content scan
	// decodes as text.
	DefaultMaxScanBytes = 1024

	// DefaultMaxCompressionRatio is the declared-size to stored-size ratio
	// above which a zip-family payload is treated as a decompression bomb
	// indicator.
	DefaultMaxCompressionRatio = 100.0
)

// defaultAllowedTypes is the MIME allowlist: images, PDF, plain text/CSV,
// common office formats and zip archives.
func defaultAllowedTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
		"application/pdf",
		"text/plain",
		"text/csv",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/zip",
		"application/x-zip-compressed",
	}
}

// defaultDeniedExtensions is the executable/script extension blocklist. It is
// checked independently of the MIME allowlist: a double-extension trick like
// "invoice.pdf.exe" passes a forged MIME check but not this one.
func defaultDeniedExtensions() []string {
	return []string{
		".exe", ".dll", ".com", ".bat", ".cmd", ".scr", ".msi", ".pif",
		".sh", ".bash", ".ps1", ".psm1",
		".js", ".mjs", ".vbs", ".vbe", ".wsf", ".hta",
		".php", ".phtml", ".asp", ".aspx", ".jsp", ".cgi",
		".py", ".pl", ".rb", ".jar",
	}
}

// defaultSignatures maps a declared MIME type to the magic bytes its payload
// must start with. Types without an entry skip signature validation.
func defaultSignatures() map[string][]byte {
	zip := []byte{0x50, 0x4B, 0x03, 0x04}
	return map[string][]byte{
		"image/jpeg":      {0xFF, 0xD8, 0xFF},
		"image/png":       {0x89, 0x50, 0x4E, 0x47},
		"image/gif":       {0x47, 0x49, 0x46, 0x38},
		"application/pdf": {0x25, 0x50, 0x44, 0x46},

		// zip family, including the zip-based office formats
		"application/zip":              zip,
		"application/x-zip-compressed": zip,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": zip,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       zip,
	}
}

// defaultZipTypes lists the MIME types subject to the compression-ratio
// heuristic.
func defaultZipTypes() []string {
	return []string{
		"application/zip",
		"application/x-zip-compressed",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}
}

// defaultScanPatterns are the malicious-content heuristics applied to the
// text-decoded payload prefix: script blocks, script-scheme URIs, inline
// event handlers, eval calls and URL-encoded script tags. Best-effort
// detection, not sanitization.
func defaultScanPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)<script\b`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)vbscript:`),
		regexp.MustCompile(`(?i)\bon\w+\s*=`),
		regexp.MustCompile(`(?i)\beval\s*\(`),
		regexp.MustCompile(`(?i)%3c\s*script`),
	}
}
