package media

import (
	"slices"
	"strings"
)

// Verdict is the outcome of classifying a downloaded resource.
type Verdict int

const (
	// Accepted means the resource is a supported asset and has an extension.
	Accepted Verdict = iota
	// Rejected means the content type is not a media type. The URL is left alone.
	Rejected
	// Unresolved means the content type is media but no allowed extension could be derived.
	// The URL is left alone and should not be retried in the same document.
	Unresolved
)

const pdfExtension = "pdf"

var imageExtensions = []string{"png", "jpg", "jpeg", "gif"}

// genericTypes are content types servers send when they do not know better.
// Only the URL can tell what they hold.
var genericTypes = []string{"application/octet-stream", "binary/octet-stream"}

// String returns a log-friendly name for the verdict.
func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Unresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Classifier decides whether a fetched resource should be stored and with which extension.
type Classifier struct {
	// AllowPDF accepts application/pdf in addition to images.
	AllowPDF bool
}

// NewClassifier creates a classifier that accepts images and, if allowPDF is set, PDFs.
func NewClassifier(allowPDF bool) *Classifier {
	return &Classifier{AllowPDF: allowPDF}
}

// Extensions returns the allow-list used by the classifier.
func (c *Classifier) Extensions() []string {
	if c.AllowPDF {
		return append(slices.Clone(imageExtensions), pdfExtension)
	}
	return imageExtensions
}

// Classify inspects the response content type first and falls back to the URL path
// when the server reports a subtype outside the allow-list or a generic binary type.
func (c *Classifier) Classify(contentType, rawURL string) (string, Verdict) {
	mediaType := normalizeContentType(contentType)
	allowed := c.Extensions()

	if slices.Contains(genericTypes, mediaType) {
		if ext := extensionFromURL(rawURL, allowed); ext != "" {
			return ext, Accepted
		}
		return "", Rejected
	}

	if !c.isMediaType(mediaType) {
		return "", Rejected
	}

	if _, subtype, found := strings.Cut(mediaType, "/"); found && slices.Contains(allowed, subtype) {
		return subtype, Accepted
	}

	if ext := extensionFromURL(rawURL, allowed); ext != "" {
		return ext, Accepted
	}

	return "", Unresolved
}

func (c *Classifier) isMediaType(mediaType string) bool {
	if strings.HasPrefix(mediaType, "image") {
		return true
	}
	return c.AllowPDF && mediaType == "application/pdf"
}

// normalizeContentType lowercases the header value and drops parameters such as charset.
func normalizeContentType(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// extensionFromURL returns the allowed extension the URL path ends with, ignoring the query string.
func extensionFromURL(rawURL string, allowed []string) string {
	path, _, _ := strings.Cut(rawURL, "?")
	path = strings.ToLower(path)

	for _, ext := range allowed {
		if strings.HasSuffix(path, "."+ext) {
			return ext
		}
	}
	return ""
}
