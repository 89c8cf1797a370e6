package scan

// State tracks a scan's progress through the pipeline. Transitions are
// strictly forward; any step may move the scan to StateFailed.
type State string

const (
	StateReceived             State = "RECEIVED"
	StateRepositoriesFetched  State = "REPOSITORIES_FETCHED"
	StateCommitsFetched       State = "COMMITS_FETCHED"
	StateMergeRequestsFetched State = "MERGE_REQUESTS_FETCHED"
	StateUsersResolved        State = "USERS_RESOLVED"
	StatePersisted            State = "PERSISTED"
	StateCompleted            State = "COMPLETED"
	StateFailed               State = "FAILED"
)
