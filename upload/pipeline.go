// Package upload implements the upload integrity pipeline: a sequence of
// independent validators applied to each uploaded file before it reaches
// storage or business logic.
//
// Every check re-derives what it can from the raw payload (true size, magic
// bytes) instead of trusting caller-declared metadata. The stages are
// defense-in-depth: each is independently sufficient to reject, and the first
// failure aborts the whole request. None of the stages mutate the payload.
package upload

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// ReasonCode identifies why an upload was rejected. Codes are stable and
// machine-readable; they appear verbatim in the HTTP error envelope.
type ReasonCode string

const (
	ReasonUnsupportedType       ReasonCode = "UNSUPPORTED_TYPE"
	ReasonDangerousExtension    ReasonCode = "DANGEROUS_EXTENSION"
	ReasonInvalidFilename       ReasonCode = "INVALID_FILENAME"
	ReasonFileTooLarge          ReasonCode = "FILE_TOO_LARGE"
	ReasonTooManyFiles          ReasonCode = "TOO_MANY_FILES"
	ReasonHeaderMismatch        ReasonCode = "HEADER_MISMATCH"
	ReasonMaliciousContent      ReasonCode = "MALICIOUS_CONTENT"
	ReasonExecutableRejected    ReasonCode = "EXECUTABLE_REJECTED"
	ReasonSuspiciousCompression ReasonCode = "SUSPICIOUS_COMPRESSION"

	// Multipart-level rejections, produced by the HTTP layer and mapped to
	// the same envelope as pipeline verdicts.
	ReasonUnexpectedFile ReasonCode = "UNEXPECTED_FILE"
	ReasonTooManyFields  ReasonCode = "TOO_MANY_FIELDS"
	ReasonFieldTooLarge  ReasonCode = "FIELD_TOO_LARGE"
)

// Candidate is one uploaded file awaiting validation. It exists only for the
// duration of a single request's pipeline run.
type Candidate struct {
	// Filename is the caller-supplied original name.
	Filename string
	// DeclaredMIME is the caller-declared content type.
	DeclaredMIME string
	// DeclaredSize is the caller-declared byte size. The true size is always
	// len(Data); DeclaredSize only feeds the compression-ratio heuristic.
	DeclaredSize int64
	// Data is the fully buffered payload.
	Data []byte
}

// Verdict is the immutable outcome of validating one Candidate.
type Verdict struct {
	Accepted bool
	Code     ReasonCode
	Message  string
}

func accept() Verdict {
	return Verdict{Accepted: true}
}

func reject(code ReasonCode, format string, args ...interface{}) Verdict {
	return Verdict{Accepted: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Config carries the pipeline's rule tables and limits. All tables are
// configuration, not algorithm: deployments extend the heuristics by
// supplying their own entries rather than patching validation code. Zero
// values fall back to the reference defaults.
type Config struct {
	// MaxFileSize is the per-file byte bound on the true payload size.
	MaxFileSize int64
	// MaxFiles is the upper bound on files per request.
	MaxFiles int
	// AllowedTypes is the declared-MIME allowlist.
	AllowedTypes []string
	// DeniedExtensions is the case-insensitive filename extension blocklist.
	DeniedExtensions []string
	// Signatures maps declared MIME types to required leading magic bytes.
	Signatures map[string][]byte
	// ZipTypes lists MIME types subject to the compression-ratio heuristic.
	ZipTypes []string
	// ScanPatterns are matched against the text-decoded payload prefix.
	ScanPatterns []*regexp.Regexp
	// MaxScanBytes bounds the prefix inspected by the content scan.
	MaxScanBytes int
	// MaxCompressionRatio is the declared/true size ratio that flags a
	// zip-family payload as suspicious.
	MaxCompressionRatio float64
}

// Pipeline validates upload candidates against an immutable rule set. It has
// no shared mutable state and is safe for concurrent use.
type Pipeline struct {
	maxFileSize      int64
	maxFiles         int
	allowedTypes     map[string]struct{}
	deniedExtensions map[string]struct{}
	signatures       map[string][]byte
	zipTypes         map[string]struct{}
	scanPatterns     []*regexp.Regexp
	maxScanBytes     int
	maxRatio         float64
}

// New creates a Pipeline from cfg, filling unset fields from the defaults.
func New(cfg Config) *Pipeline {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if cfg.AllowedTypes == nil {
		cfg.AllowedTypes = defaultAllowedTypes()
	}
	if cfg.DeniedExtensions == nil {
		cfg.DeniedExtensions = defaultDeniedExtensions()
	}
	if cfg.Signatures == nil {
		cfg.Signatures = defaultSignatures()
	}
	if cfg.ZipTypes == nil {
		cfg.ZipTypes = defaultZipTypes()
	}
	if cfg.ScanPatterns == nil {
		cfg.ScanPatterns = defaultScanPatterns()
	}
	if cfg.MaxScanBytes <= 0 {
		cfg.MaxScanBytes = DefaultMaxScanBytes
	}
	if cfg.MaxCompressionRatio <= 0 {
		cfg.MaxCompressionRatio = DefaultMaxCompressionRatio
	}

	// Signature lookups go through normalizeMIME, so caller-supplied keys
	// must be normalized the same way or they would silently never match.
	signatures := make(map[string][]byte, len(cfg.Signatures))
	for mime, sig := range cfg.Signatures {
		signatures[normalizeMIME(mime)] = sig
	}

	p := &Pipeline{
		maxFileSize:      cfg.MaxFileSize,
		maxFiles:         cfg.MaxFiles,
		allowedTypes:     toSet(cfg.AllowedTypes),
		deniedExtensions: toSet(cfg.DeniedExtensions),
		signatures:       signatures,
		zipTypes:         toSet(cfg.ZipTypes),
		scanPatterns:     cfg.ScanPatterns,
		maxScanBytes:     cfg.MaxScanBytes,
		maxRatio:         cfg.MaxCompressionRatio,
	}
	return p
}

// MaxFiles returns the per-request file count bound.
func (p *Pipeline) MaxFiles() int { return p.maxFiles }

// MaxFileSize returns the per-file size bound.
func (p *Pipeline) MaxFileSize() int64 { return p.maxFileSize }

// Validate runs every stage against the candidate and returns the first
// failing verdict, or an accepted verdict if all stages pass.
//
// Stage order puts cheap metadata checks before byte-level scans and the
// executable-header check before signature validation, so a PE payload is
// reported as EXECUTABLE_REJECTED rather than as a mere type mismatch.
// Ordering is an efficiency and reporting choice only: each stage rejects on
// its own regardless of position.
func (p *Pipeline) Validate(c Candidate) Verdict {
	stages := []func(Candidate) Verdict{
		p.checkType,
		p.checkExtension,
		p.checkFilename,
		p.checkSize,
		p.checkExecutableHeader,
		p.checkSignature,
		p.scanContent,
		p.checkCompressionRatio,
	}
	for _, stage := range stages {
		if v := stage(c); !v.Accepted {
			return v
		}
	}
	return accept()
}

// ValidateBatch enforces the per-request file count bound, then validates
// each candidate in order. It returns the index of the failing candidate and
// its verdict; the index is -1 when the batch itself is rejected or when all
// candidates pass.
func (p *Pipeline) ValidateBatch(cs []Candidate) (int, Verdict) {
	if len(cs) > p.maxFiles {
		return -1, reject(ReasonTooManyFiles,
			"too many files: got %d, limit is %d per request", len(cs), p.maxFiles)
	}
	for i, c := range cs {
		if v := p.Validate(c); !v.Accepted {
			return i, v
		}
	}
	return -1, accept()
}

func (p *Pipeline) checkType(c Candidate) Verdict {
	mime := normalizeMIME(c.DeclaredMIME)
	if _, ok := p.allowedTypes[mime]; !ok {
		return reject(ReasonUnsupportedType, "file type %q is not allowed", c.DeclaredMIME)
	}
	return accept()
}

func (p *Pipeline) checkExtension(c Candidate) Verdict {
	name := strings.ToLower(c.Filename)
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		if _, ok := p.deniedExtensions[name[idx:]]; ok {
			return reject(ReasonDangerousExtension,
				"file extension %q is not allowed", name[idx:])
		}
	}
	return accept()
}

func (p *Pipeline) checkFilename(c Candidate) Verdict {
	name := c.Filename
	if name == "" ||
		strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) ||
		strings.ContainsRune(name, 0) {
		return reject(ReasonInvalidFilename, "filename %q is not acceptable", c.Filename)
	}
	return accept()
}

func (p *Pipeline) checkSize(c Candidate) Verdict {
	if int64(len(c.Data)) > p.maxFileSize {
		return reject(ReasonFileTooLarge,
			"file is %d bytes, limit is %d", len(c.Data), p.maxFileSize)
	}
	return accept()
}

func (p *Pipeline) checkExecutableHeader(c Candidate) Verdict {
	// Windows PE files start with the DOS header signature "MZ".
	if len(c.Data) >= 2 && c.Data[0] == 'M' && c.Data[1] == 'Z' {
		return reject(ReasonExecutableRejected, "executable files are not allowed")
	}
	return accept()
}

func (p *Pipeline) checkSignature(c Candidate) Verdict {
	sig, ok := p.signatures[normalizeMIME(c.DeclaredMIME)]
	if !ok {
		return accept()
	}
	if !bytes.HasPrefix(c.Data, sig) {
		return reject(ReasonHeaderMismatch,
			"file content does not match declared type %q", c.DeclaredMIME)
	}
	return accept()
}

func (p *Pipeline) scanContent(c Candidate) Verdict {
	prefix := c.Data
	if len(prefix) > p.maxScanBytes {
		prefix = prefix[:p.maxScanBytes]
	}
	text := string(prefix)
	for _, pat := range p.scanPatterns {
		if pat.MatchString(text) {
			return reject(ReasonMaliciousContent, "file content failed the security scan")
		}
	}
	return accept()
}

func (p *Pipeline) checkCompressionRatio(c Candidate) Verdict {
	if _, ok := p.zipTypes[normalizeMIME(c.DeclaredMIME)]; !ok {
		return accept()
	}
	if len(c.Data) == 0 || c.DeclaredSize <= 0 {
		return accept()
	}
	ratio := float64(c.DeclaredSize) / float64(len(c.Data))
	if ratio > p.maxRatio {
		return reject(ReasonSuspiciousCompression,
			"compression ratio %.0f exceeds the allowed maximum", ratio)
	}
	return accept()
}

func normalizeMIME(mime string) string {
	mime = strings.TrimSpace(strings.ToLower(mime))
	// strip parameters such as "; charset=utf-8"
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = struct{}{}
	}
	return set
}
