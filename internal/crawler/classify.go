package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

// AssetCategory names the subdirectory an asset is mirrored into.
type AssetCategory string

// Asset categories, one directory each under assets/.
const (
	CategoryImages AssetCategory = "images"
	CategoryCSS    AssetCategory = "css"
	CategoryJS     AssetCategory = "js"
	CategoryFonts  AssetCategory = "fonts"
	CategoryVideos AssetCategory = "videos"
	CategoryOther  AssetCategory = "other"
)

// AssetCategories lists every category in directory-creation order.
var AssetCategories = []AssetCategory{
	CategoryImages,
	CategoryCSS,
	CategoryJS,
	CategoryFonts,
	CategoryVideos,
	CategoryOther,
}

var extensionCategories = map[string]AssetCategory{
	".jpg":   CategoryImages,
	".jpeg":  CategoryImages,
	".png":   CategoryImages,
	".gif":   CategoryImages,
	".webp":  CategoryImages,
	".svg":   CategoryImages,
	".ico":   CategoryImages,
	".css":   CategoryCSS,
	".js":    CategoryJS,
	".mjs":   CategoryJS,
	".woff":  CategoryFonts,
	".woff2": CategoryFonts,
	".ttf":   CategoryFonts,
	".otf":   CategoryFonts,
	".eot":   CategoryFonts,
	".mp4":   CategoryVideos,
	".webm":  CategoryVideos,
	".avi":   CategoryVideos,
	".mov":   CategoryVideos,
}

const (
	assetsDir         = "assets"
	fallbackPrefix    = "asset_"
	fallbackHashChars = 16
)

// Classify maps the extension of rawURL's path (case-insensitive, query and
// fragment ignored) to a category. Unknown or missing extensions are "other".
func Classify(rawURL string) AssetCategory {
	ext := strings.ToLower(path.Ext(lastSegment(rawURL)))
	if category, ok := extensionCategories[ext]; ok {
		return category
	}
	return CategoryOther
}

// ClassifyWithHint prefers the extension-derived category and falls back to
// hint when the extension is not recognized.
func ClassifyWithHint(rawURL string, hint AssetCategory) AssetCategory {
	category := Classify(rawURL)
	if category == CategoryOther && hint != "" {
		return hint
	}
	return category
}

// AssetRelPath is the output-relative path an asset is mirrored to.
func AssetRelPath(category AssetCategory, rawURL string) string {
	return filepath.Join(assetsDir, string(category), AssetFilename(rawURL))
}

// DestinationPath joins AssetRelPath onto the output root.
func DestinationPath(root string, category AssetCategory, rawURL string) string {
	return filepath.Join(root, AssetRelPath(category, rawURL))
}

// AssetFilename derives a filesystem-safe name from the last path segment of
// rawURL. URLs without a usable segment get a stable hash-based name.
func AssetFilename(rawURL string) string {
	name := SanitizeFilename(lastSegment(rawURL))
	if degenerateName(name) {
		return fallbackName(rawURL)
	}
	return name
}

// SanitizeFilename replaces every character other than a letter, a digit,
// ".", "_" or "-" with "_". Letters and digits outside ASCII are kept.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

func degenerateName(name string) bool {
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func fallbackName(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return fallbackPrefix + hex.EncodeToString(sum[:])[:fallbackHashChars]
}

// lastSegment returns the text after the final "/" of the URL path. A path
// ending in "/" has an empty last segment.
func lastSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		p = u.Path
		if u.Opaque != "" {
			p = u.Opaque
		}
	} else {
		if idx := strings.IndexAny(p, "?#"); idx >= 0 {
			p = p[:idx]
		}
	}
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
