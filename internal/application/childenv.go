package application

import "strconv"

// Environment keys injected into the test command. Client libraries running
// inside the test process read these to find the intake server.
const (
	EnvServerURL   = "SHOTRUN_SERVER_URL"
	EnvBuildID     = "SHOTRUN_BUILD_ID"
	EnvEnabled     = "SHOTRUN_ENABLED"
	EnvSetBaseline = "SHOTRUN_SET_BASELINE"
)

// ChildEnv builds the environment contract for the test command. When
// disabled, the server and build keys are still set (to empty values) so
// stale values inherited from the parent cannot leak into the child.
func ChildEnv(serverURL, buildID string, enabled, setBaseline bool) map[string]string {
	if !enabled {
		serverURL, buildID = "", ""
	}
	return map[string]string{
		EnvServerURL:   serverURL,
		EnvBuildID:     buildID,
		EnvEnabled:     strconv.FormatBool(enabled),
		EnvSetBaseline: strconv.FormatBool(setBaseline),
	}
}
