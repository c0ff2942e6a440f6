package crawler

import (
	"strings"

	"go.uber.org/zap"
)

// RenderPreference is the user's choice about browser rendering.
type RenderPreference int

// Render preferences.
const (
	// RenderAuto renders every page when a renderer is available.
	RenderAuto RenderPreference = iota
	// RenderForce renders every page and requires a renderer.
	RenderForce
	// RenderDisabled never renders.
	RenderDisabled
	// RenderSelective renders signature-matched sites; other sites are
	// fetched statically with per-page promotion.
	RenderSelective
)

func (p RenderPreference) String() string {
	switch p {
	case RenderForce:
		return "force"
	case RenderDisabled:
		return "disabled"
	case RenderSelective:
		return "selective"
	default:
		return "auto"
	}
}

// DefaultRenderSignatures are base URL fragments of builders whose pages only
// exist after client-side rendering.
var DefaultRenderSignatures = []string{"wix", "parastorage"}

// MatchesSignature reports whether baseURL contains any signature, case-insensitively.
func MatchesSignature(baseURL string, signatures []string) bool {
	lower := strings.ToLower(baseURL)
	for _, sig := range signatures {
		sig = strings.ToLower(strings.TrimSpace(sig))
		if sig != "" && strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// SelectFetchMode picks the site-wide fetch mode. In static mode the engine
// may still promote single pages to a rendered fetch through its Detector.
func SelectFetchMode(
	baseURL string,
	pref RenderPreference,
	canRender bool,
	signatures []string,
	logger *zap.Logger,
) FetchMode {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch pref {
	case RenderDisabled:
		return FetchModeStatic
	case RenderForce:
		if !canRender {
			logger.Warn("Rendering requested but no renderer is available; using static fetches")
			return FetchModeStatic
		}
		return FetchModeRendered
	case RenderAuto:
		if canRender {
			return FetchModeRendered
		}
		if MatchesSignature(baseURL, signatures) {
			logger.Warn("Site looks client-rendered but no renderer is available; content may be incomplete",
				zap.String("url", baseURL))
		}
		return FetchModeStatic
	}
	if !MatchesSignature(baseURL, signatures) {
		return FetchModeStatic
	}
	if !canRender {
		logger.Warn("Site looks client-rendered but no renderer is available; content may be incomplete",
			zap.String("url", baseURL))
		return FetchModeStatic
	}
	logger.Info("Detected client-rendered site; rendering every page", zap.String("url", baseURL))
	return FetchModeRendered
}
