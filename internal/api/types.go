package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ActionID identifies an invokable: an import, export, process or other
// action. Its numeric range determines the family.
type ActionID int64

// Family is the URL path segment of an action family.
type Family string

const (
	FamilyImports   Family = "imports"
	FamilyExports   Family = "exports"
	FamilyActions   Family = "actions"
	FamilyProcesses Family = "processes"
)

// Identifier ranges, [lo, hi).
const (
	importsLo   = 12_000_000_000
	importsHi   = 113_000_000_000
	exportsLo   = 116_000_000_000
	exportsHi   = 117_000_000_000
	actionsLo   = 117_000_000_000
	actionsHi   = 118_000_000_000
	processesLo = 118_000_000_000
	processesHi = 119_000_000_000
)

// Family resolves the action family from the identifier's range. Identifiers
// outside every range are ErrUnknownIdentifier.
func (id ActionID) Family() (Family, error) {
	switch {
	case id >= importsLo && id < importsHi:
		return FamilyImports, nil
	case id >= exportsLo && id < exportsHi:
		return FamilyExports, nil
	case id >= actionsLo && id < actionsHi:
		return FamilyActions, nil
	case id >= processesLo && id < processesHi:
		return FamilyProcesses, nil
	default:
		return "", fmt.Errorf("api: action '%d' is not a valid identifier: %w", id, ErrUnknownIdentifier)
	}
}

// TaskState is the raw taskState reported by the server, e.g. NOT_STARTED,
// IN_PROGRESS, COMPLETE, CANCELLING, CANCELLED.
type TaskState string

const (
	stateCompleteMarker = "COMPLETE"
	stateCancelled      = "CANCELLED"
)

// Complete reports whether the state carries the COMPLETE marker.
func (s TaskState) Complete() bool {
	return strings.Contains(string(s), stateCompleteMarker)
}

// Terminal reports whether polling should stop. A cancelled task never
// reaches COMPLETE, so it is terminal too.
func (s TaskState) Terminal() bool {
	return s.Complete() || s == stateCancelled
}

// Phase is the client-side lifecycle of a task.
type Phase int

const (
	PhaseInvoked Phase = iota + 1
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseInvoked:
		return "invoked"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Task is one execution of an action. Successful is meaningful only when
// Phase is PhaseComplete.
type Task struct {
	ID         string
	ActionID   ActionID
	Family     Family
	Phase      Phase
	Successful bool
}

// TaskDetail is one diagnostic entry attached to a task result.
type TaskDetail struct {
	Type        string
	Message     string
	Occurrences int
	Values      []string
}

// TaskResult is present once a task is complete.
type TaskResult struct {
	Successful           bool
	FailureDumpAvailable bool
	ObjectID             string
	Details              []TaskDetail
}

// TaskStatus is a single poll of a task.
type TaskStatus struct {
	TaskID      string
	State       TaskState
	Progress    float64
	CurrentStep string
	Result      *TaskResult
}

// Succeeded reports a complete task whose result is successful.
func (s *TaskStatus) Succeeded() bool {
	return s.State.Complete() && s.Result != nil && s.Result.Successful
}

// Details returns the result details, or nil before completion.
func (s *TaskStatus) Details() []TaskDetail {
	if s.Result == nil {
		return nil
	}

	return s.Result.Details
}

// Workspace is an Anaplan workspace.
type Workspace struct {
	ID            string
	Name          string
	Active        bool
	SizeAllowance int64
	CurrentSize   int64
}

// Model is an Anaplan model.
type Model struct {
	ID                     string
	Name                   string
	ActiveState            string
	LastSavedSerialNumber  int64
	LastModifiedByUserGUID string
	MemoryUsage            *int64
	CurrentWorkspaceID     string
	CurrentWorkspaceName   string
	URL                    string
	CategoryValues         []json.RawMessage
	ISOCreationDate        string
	LastModified           string
}

// Action is an entry under "Other Actions".
type Action struct {
	ID   ActionID
	Name string
	Type string
}

// Import is an import definition. SourceID is nil when the import has no
// data source.
type Import struct {
	ID       ActionID
	Name     string
	Type     string
	SourceID *int64
}

// Export is an export definition.
type Export struct {
	ID       ActionID
	Name     string
	Type     string
	Format   string
	Encoding string
	Layout   string
}

// Process is a process definition.
type Process struct {
	ID   ActionID
	Name string
}

// File is an import data source or export target.
type File struct {
	ID           int64
	Name         string
	ChunkCount   int
	Delimiter    string
	Encoding     string
	FirstDataRow int
	Format       string
	HeaderRow    int
	Separator    string
}

// List is a model list.
type List struct {
	ID   int64
	Name string
}

// flexInt decodes identifiers the API sends either as JSON numbers or as
// numeric strings. An empty string decodes as zero.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}

	s := string(bytes.Trim(b, `"`))
	if s == "" {
		*f = 0
		return nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("api: invalid numeric identifier %s: %w", b, err)
	}

	*f = flexInt(n)

	return nil
}

// --- wire shapes ---

type createTaskRequest struct {
	LocaleName string `json:"localeName"`
}

type taskEnvelope struct {
	Task *taskResponse `json:"task"`
}

type taskResponse struct {
	TaskID      string              `json:"taskId"`
	TaskState   string              `json:"taskState"`
	Progress    float64             `json:"progress"`
	CurrentStep string              `json:"currentStep"`
	Result      *taskResultResponse `json:"result"`
}

type taskResultResponse struct {
	Successful           bool                 `json:"successful"`
	FailureDumpAvailable bool                 `json:"failureDumpAvailable"`
	ObjectID             string               `json:"objectId"`
	Details              []taskDetailResponse `json:"details"`
}

type taskDetailResponse struct {
	Type             string   `json:"type"`
	LocalMessageText string   `json:"localMessageText"`
	Occurrences      int      `json:"occurrences"`
	Values           []string `json:"values"`
}

func (t *taskResponse) toStatus() TaskStatus {
	st := TaskStatus{
		TaskID:      t.TaskID,
		State:       TaskState(t.TaskState),
		Progress:    t.Progress,
		CurrentStep: t.CurrentStep,
	}

	if t.Result != nil {
		res := &TaskResult{
			Successful:           t.Result.Successful,
			FailureDumpAvailable: t.Result.FailureDumpAvailable,
			ObjectID:             t.Result.ObjectID,
		}

		for _, d := range t.Result.Details {
			res.Details = append(res.Details, TaskDetail{
				Type:        d.Type,
				Message:     d.LocalMessageText,
				Occurrences: d.Occurrences,
				Values:      d.Values,
			})
		}

		st.Result = res
	}

	return st
}

type chunkCountRequest struct {
	ChunkCount int `json:"chunkCount"`
}

type chunkCountResponse struct {
	File *struct {
		ChunkCount *int `json:"chunkCount"`
	} `json:"file"`
}

type workspacesResponse struct {
	Workspaces []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Active        bool   `json:"active"`
		SizeAllowance int64  `json:"sizeAllowance"`
		CurrentSize   int64  `json:"currentSize"`
	} `json:"workspaces"`
}

type modelsResponse struct {
	Models []struct {
		ID                     string            `json:"id"`
		Name                   string            `json:"name"`
		ActiveState            string            `json:"activeState"`
		LastSavedSerialNumber  int64             `json:"lastSavedSerialNumber"`
		LastModifiedByUserGUID string            `json:"lastModifiedByUserGuid"`
		MemoryUsage            *int64            `json:"memoryUsage"`
		CurrentWorkspaceID     string            `json:"currentWorkspaceId"`
		CurrentWorkspaceName   string            `json:"currentWorkspaceName"`
		ModelURL               string            `json:"modelUrl"`
		CategoryValues         []json.RawMessage `json:"categoryValues"`
		ISOCreationDate        string            `json:"isoCreationDate"`
		LastModified           string            `json:"lastModified"`
	} `json:"models"`
}

type actionsResponse struct {
	Actions []struct {
		ID         flexInt `json:"id"`
		Name       string  `json:"name"`
		ActionType string  `json:"actionType"`
	} `json:"actions"`
}

type importsResponse struct {
	Imports []struct {
		ID                 flexInt `json:"id"`
		Name               string  `json:"name"`
		ImportType         string  `json:"importType"`
		ImportDataSourceID flexInt `json:"importDataSourceId"`
	} `json:"imports"`
}

type exportsResponse struct {
	Exports []struct {
		ID           flexInt `json:"id"`
		Name         string  `json:"name"`
		ExportType   string  `json:"exportType"`
		ExportFormat string  `json:"exportFormat"`
		Encoding     string  `json:"encoding"`
		Layout       string  `json:"layout"`
	} `json:"exports"`
}

type processesResponse struct {
	Processes []struct {
		ID   flexInt `json:"id"`
		Name string  `json:"name"`
	} `json:"processes"`
}

type filesResponse struct {
	Files []struct {
		ID           flexInt `json:"id"`
		Name         string  `json:"name"`
		ChunkCount   int     `json:"chunkCount"`
		Delimiter    string  `json:"delimiter"`
		Encoding     string  `json:"encoding"`
		FirstDataRow int     `json:"firstDataRow"`
		Format       string  `json:"format"`
		HeaderRow    int     `json:"headerRow"`
		Separator    string  `json:"separator"`
	} `json:"files"`
}

type listsResponse struct {
	Lists []struct {
		ID   flexInt `json:"id"`
		Name string  `json:"name"`
	} `json:"lists"`
}
