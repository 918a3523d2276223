package middleware

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deskgate/deskgate/ratelimit"
	"github.com/deskgate/deskgate/upload"
)

// uploadsContextKey is where the guard stores validated candidates for
// downstream handlers.
const uploadsContextKey = "deskgate.uploads"

// UploadOptions configures the multipart surface of the upload guard.
// The per-file limits live in the pipeline itself; these bound the request
// envelope around the files.
type UploadOptions struct {
	// FileField, when non-empty, is the only multipart field allowed to carry
	// files. Files under any other field are rejected with UNEXPECTED_FILE.
	FileField string
	// MaxFields bounds the number of non-file form fields. Zero means 20.
	MaxFields int
	// MaxFieldBytes bounds the size of a single non-file field value.
	// Zero means 64 KiB.
	MaxFieldBytes int64
	// Logger receives validation failures at debug level. Nil discards.
	Logger ratelimit.Logger
}

// UploadGuard creates a gin middleware that buffers each uploaded file, runs
// the integrity pipeline over the whole batch, and rejects the request with
// a structured 400 envelope on the first failure. Handlers behind the guard
// receive only fully validated candidates, available via UploadsFrom.
//
// The guard performs in-memory validation only; it never writes files
// anywhere and leaves persistence to the business handler.
func UploadGuard(pipeline *upload.Pipeline, opts UploadOptions) gin.HandlerFunc {
	if opts.MaxFields <= 0 {
		opts.MaxFields = 20
	}
	if opts.MaxFieldBytes <= 0 {
		opts.MaxFieldBytes = 64 << 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = ratelimit.NopLogger()
	}

	return func(c *gin.Context) {
		// Bound the whole request body before parsing; one oversize file must
		// not be buffered past the configured ceiling.
		maxBody := int64(pipeline.MaxFiles())*pipeline.MaxFileSize() + opts.MaxFieldBytes*int64(opts.MaxFields)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

		form, err := c.MultipartForm()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeUploadRejection(c, upload.ReasonFileTooLarge,
					"request body exceeds the upload size limit")
				return
			}
			writeUploadRejection(c, upload.ReasonUnexpectedFile,
				"malformed multipart request")
			return
		}

		if len(form.Value) > opts.MaxFields {
			writeUploadRejection(c, upload.ReasonTooManyFields,
				fmt.Sprintf("too many form fields: got %d, limit is %d", len(form.Value), opts.MaxFields))
			return
		}
		for field, values := range form.Value {
			for _, v := range values {
				if int64(len(v)) > opts.MaxFieldBytes {
					writeUploadRejection(c, upload.ReasonFieldTooLarge,
						fmt.Sprintf("form field %q exceeds the value size limit", field))
					return
				}
			}
		}

		var candidates []upload.Candidate
		for field, headers := range form.File {
			if opts.FileField != "" && field != opts.FileField {
				writeUploadRejection(c, upload.ReasonUnexpectedFile,
					fmt.Sprintf("unexpected file field %q", field))
				return
			}

			// Bail out before buffering more files than the batch allows.
			if len(candidates)+len(headers) > pipeline.MaxFiles() {
				writeUploadRejection(c, upload.ReasonTooManyFiles,
					fmt.Sprintf("too many files: limit is %d per request", pipeline.MaxFiles()))
				return
			}

			for _, fh := range headers {
				data, err := readFile(fh)
				if err != nil {
					logger.Errorf("failed to buffer upload %q: %v", fh.Filename, err)
					writeUploadRejection(c, upload.ReasonFileTooLarge,
						"failed to read uploaded file")
					return
				}
				candidates = append(candidates, upload.Candidate{
					Filename:     fh.Filename,
					DeclaredMIME: fh.Header.Get("Content-Type"),
					DeclaredSize: fh.Size,
					Data:         data,
				})
			}
		}

		if idx, verdict := pipeline.ValidateBatch(candidates); !verdict.Accepted {
			name := "request"
			if idx >= 0 {
				name = candidates[idx].Filename
			}
			logger.Debugf("upload rejected (%s): %s - %s", name, verdict.Code, verdict.Message)
			writeUploadRejection(c, verdict.Code, verdict.Message)
			return
		}

		c.Set(uploadsContextKey, candidates)
		c.Next()
	}
}

// UploadsFrom returns the validated upload candidates stored by UploadGuard,
// or nil when the guard did not run on this request.
func UploadsFrom(c *gin.Context) []upload.Candidate {
	v, ok := c.Get(uploadsContextKey)
	if !ok {
		return nil
	}
	candidates, _ := v.([]upload.Candidate)
	return candidates
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
