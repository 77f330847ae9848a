package detect

import "regexp"

// probeWidth is the CDN transform width used for the low-resolution first
// pass. The probe is roughly 20x cheaper than the original, and the
// face-positive rate on the platforms that use it is typically under 40%,
// so most images never cost a full-resolution download.
const probeWidth = "width=450"

// civitai source URLs carry the transform as a path segment: the API's
// `url` field is /original=true/-shaped, and already-transformed variants
// carry /width=N/ instead. Either segment rewrites to the probe width.
var civitaiTransformSegment = regexp.MustCompile(`/(original=true|width=\d+)/`)

// probeURL derives the low-resolution probe variant of sourceURL for
// platforms whose CDN exposes a width transform, or "" when the platform
// gets a single full-resolution pass.
func probeURL(platform, sourceURL string) string {
	switch platform {
	case "civitai":
		if !civitaiTransformSegment.MatchString(sourceURL) {
			return ""
		}
		return civitaiTransformSegment.ReplaceAllString(sourceURL, "/"+probeWidth+"/")
	default:
		return ""
	}
}
