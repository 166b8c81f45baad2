package sync

import (
	"fmt"
	"strings"
)

// rewriteFirst replaces the first occurrence of url in content with the local reference of assetPath.
// It reports whether a replacement happened.
func rewriteFirst(content, url, assetPath string) (string, bool) {
	if !strings.Contains(content, url) {
		return content, false
	}
	return strings.Replace(content, url, localReference(assetPath), 1), true
}

// localReference renders an asset path so it stays a valid markdown link target.
func localReference(assetPath string) string {
	return strings.ReplaceAll(assetPath, " ", "%20")
}

// sidecarPath returns the provenance note path of an asset.
func sidecarPath(assetPath string) string {
	return assetPath + ".md"
}

// sidecarContent links an asset back to its source document and records the original URL.
func sidecarContent(assetPath, documentPath, url string) string {
	return fmt.Sprintf("![[%s]] From note: [[%s]] Original url: %s", assetPath, documentPath, url)
}
