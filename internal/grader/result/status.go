package result

// JobStatus represents the lifecycle state of an async grading job.
type JobStatus string

const (
	StatusPending  JobStatus = "Pending"
	StatusRunning  JobStatus = "Running"
	StatusFinished JobStatus = "Finished"
	StatusFailed   JobStatus = "Failed"
)

// Terminal reports whether no further transitions happen.
func (s JobStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}
