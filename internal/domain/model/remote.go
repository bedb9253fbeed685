package model

// RemoteBuild is the identity returned by the remote build API on creation.
type RemoteBuild struct {
	ID  string
	URL string
}

// RemoteBuildMetadata describes a build to the remote API.
type RemoteBuildMetadata struct {
	Name        string
	Branch      string
	Commit      string
	Environment string
	SetBaseline bool
}

// RemoteBuildState is the processing state reported while waiting for comparisons.
type RemoteBuildState struct {
	ID          string
	Status      string
	Processed   bool
	Comparisons ComparisonSummary
}

// UploadAck is the remote acknowledgement of an uploaded screenshot.
type UploadAck struct {
	ID string
}

// CommitState is the state of a published commit status.
type CommitState string

const (
	CommitStatePending CommitState = "pending"
	CommitStateSuccess CommitState = "success"
	CommitStateFailure CommitState = "failure"
	CommitStateError   CommitState = "error"
)

// CommitStatus is a status report attached to a commit after a build finishes.
type CommitStatus struct {
	SHA         string
	State       CommitState
	Description string
	TargetURL   string
}

// CommitStatusFor maps a finalized build to the commit status it should publish.
func CommitStatusFor(b Build) CommitStatus {
	status := CommitStatus{SHA: b.Commit, TargetURL: b.URL}
	switch b.Status {
	case BuildStatusCompleted:
		status.State = CommitStateSuccess
		status.Description = "Visual tests passed"
	case BuildStatusFailed:
		status.State = CommitStateFailure
		status.Description = "Visual tests failed"
	case BuildStatusCancelled:
		status.State = CommitStateError
		status.Description = "Visual test run was cancelled"
	default:
		status.State = CommitStatePending
		status.Description = "Visual tests running"
	}
	return status
}
