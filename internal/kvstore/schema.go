package kvstore

import "fmt"

// Key pattern helpers
//
// Keys are namespaced by profile so several operator profiles can share one
// backing store without interference.
//
// Key pattern: geowatch:{profile}:{entity}

// SessionKey holds the persisted API key.
// Pattern: geowatch:{profile}:session:api_key
func SessionKey(profile string) string {
	return fmt.Sprintf("geowatch:%s:session:api_key", profile)
}

// ViewportKey holds the last map center and zoom as JSON.
// Pattern: geowatch:{profile}:viewport
func ViewportKey(profile string) string {
	return fmt.Sprintf("geowatch:%s:viewport", profile)
}

// ViewportInitializedKey marks that the viewport no longer needs an auto-fit.
// Pattern: geowatch:{profile}:viewport:initialized
func ViewportInitializedKey(profile string) string {
	return fmt.Sprintf("geowatch:%s:viewport:initialized", profile)
}
