package httpproto

import "strings"

// mimeTable is a fixed suffix -> media-type map, matched case-sensitively,
// extended past the bare minimum with suffixes static-file servers
// commonly special-case.
var mimeTable = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "application/javascript",
	".word":  "application/msword",
	".json":  "application/json",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".mp4":   "video/mp4",
	".webp":  "image/webp",
}

// mimeFor resolves a path's suffix to a media type, case-sensitively.
// Unknown suffixes resolve to text/plain.
func mimeFor(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx == -1 {
		return "text/plain"
	}
	if mt, ok := mimeTable[path[idx:]]; ok {
		return mt
	}
	return "text/plain"
}
