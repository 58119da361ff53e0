package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Input validation for uploaded IaC artifacts

// ErrUploadTooLarge is returned when an artifact exceeds the upload limit.
var ErrUploadTooLarge = errors.New("artifact exceeds upload limit")

// allowedExtensions covers CloudFormation, Terraform and OpenAPI documents.
var allowedExtensions = map[string]bool{
	"":       true,
	".yaml":  true,
	".yml":   true,
	".json":  true,
	".tf":    true,
	".hcl":   true,
	".txt":   true,
	".templ": true,
}

// ReadUpload extracts the artifact from a request. Multipart requests use
// the "file" field; anything else is read as the raw body. A request
// without an artifact returns nil bytes and no error.
func ReadUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (data []byte, filename string, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, hdr, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", uploadError(err)
		}
		defer f.Close()
		filename = SanitizeFilename(hdr.Filename)
		data, err = io.ReadAll(f)
		if err != nil {
			return nil, "", uploadError(err)
		}
	} else {
		data, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, "", uploadError(err)
		}
		filename = SanitizeFilename(r.URL.Query().Get("filename"))
	}

	if err := ValidateArtifact(filename, data); err != nil {
		return nil, "", err
	}
	return data, filename, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w (%d bytes)", ErrUploadTooLarge, tooLarge.Limit)
	}
	// multipart parsing does not always keep the MaxBytesError in the chain
	if strings.Contains(err.Error(), "request body too large") {
		return ErrUploadTooLarge
	}
	return fmt.Errorf("read upload: %w", err)
}

// ValidateArtifact checks the artifact is text we can embed in a prompt.
// Emptiness is not checked here; that is the pipeline's decision.
func ValidateArtifact(filename string, data []byte) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("unsupported file type %q (allowed: .yaml, .yml, .json, .tf, .hcl, .txt)", ext)
	}
	if !utf8.Valid(data) {
		return errors.New("artifact is not valid UTF-8 text")
	}
	if strings.ContainsRune(string(data), '\x00') {
		return errors.New("artifact contains NUL bytes")
	}
	return nil
}

// SanitizeFilename keeps only the base name and drops control characters.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}

	var result strings.Builder
	for _, r := range name {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}
