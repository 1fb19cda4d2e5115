// ABOUTME: Product and version identification
// ABOUTME: Reported by the CLIs, in logs and in the estimator's User-Agent
package version

const (
	// Version is the release of this build
	Version = "0.3.0"

	// Product names the authority when no name is configured
	Product = "timesync authority"
)

// UserAgent identifies estimator requests to the authority
func UserAgent() string {
	return "timesync/" + Version
}
