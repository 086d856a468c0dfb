package model

// ChangeKind is the kind of mutation a change event reports
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeSource tells whether a change was written here or merged from the remote
type ChangeSource string

const (
	SourceLocal  ChangeSource = "local"
	SourceRemote ChangeSource = "remote"
)

// ChangeEvent is delivered to subscribers for every observed change
type ChangeEvent struct {
	Kind   ChangeKind   `json:"kind"`
	Record Todo         `json:"record"`
	Source ChangeSource `json:"source"`
}

// SyncResult holds the outcome of one explicit sync pass
type SyncResult struct {
	Pushed    int
	Pulled    int
	Conflicts int
	Rejected  int
	Pending   int
	Offline   bool
}
