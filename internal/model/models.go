// internal/model/models.go
package model

import (
	"strconv"
	"strings"
	"time"

	custom_errors "gitlab-stats/internal/errors"
)

// Project represents a repository on the source platform.
type Project struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description,omitempty"`
	URL           string `json:"url"`
	DefaultBranch string `json:"default_branch"`
}

// Normalize returns a copy of the project with a lowercase full name whose
// namespace segments carry no surrounding whitespace ("Acme / Web" -> "acme/web").
func (p Project) Normalize() Project {
	parts := strings.Split(p.FullName, "/")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	p.FullName = strings.ToLower(strings.Join(parts, "/"))
	return p
}

// Group returns the namespace segment immediately preceding the project segment.
func (p Project) Group() (string, error) {
	idx := strings.LastIndex(p.FullName, "/")
	if idx <= 0 {
		return "", &custom_errors.ErrInvalidFullName{FullName: p.FullName}
	}
	namespace := p.FullName[:idx]
	if i := strings.LastIndex(namespace, "/"); i >= 0 {
		namespace = namespace[i+1:]
	}
	if namespace == "" {
		return "", &custom_errors.ErrInvalidFullName{FullName: p.FullName}
	}
	return namespace, nil
}

// CommitStats holds line-change counters. Missing values are zero.
type CommitStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Total     int `json:"total"`
}

// Commit is a normalized commit snapshot.
// Parents is nil when the platform gave no parent data and empty for a root commit.
type Commit struct {
	SHA     string      `json:"sha"`
	Author  string      `json:"author"`
	Date    time.Time   `json:"date"`
	Message string      `json:"message"`
	Parents []string    `json:"parents"`
	Stats   CommitStats `json:"stats"`
}

// ParentCount returns the number of parents, or 1 when parent data is unavailable.
func (c Commit) ParentCount() int {
	if c.Parents == nil {
		return 1
	}
	return len(c.Parents)
}

// MeasureValueType declares the type of a measure value. The empty value leaves
// the type to the backend default (a double for numeric measures).
type MeasureValueType string

const (
	MeasureValueDefault MeasureValueType = ""
	MeasureValueVarchar MeasureValueType = "VARCHAR"
	MeasureValueBigint  MeasureValueType = "BIGINT"
)

// Dimension is a named tag attached to a record.
type Dimension struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is one timestamped measure with its dimensions.
type Record struct {
	Dimensions       []Dimension      `json:"dimensions"`
	MeasureName      string           `json:"measure_name"`
	MeasureValue     string           `json:"measure_value"`
	MeasureValueType MeasureValueType `json:"measure_value_type,omitempty"`
	Time             time.Time        `json:"time"`
}

// EpochSeconds renders the record time the way the store wire format expects it.
func (r Record) EpochSeconds() string {
	return strconv.FormatInt(r.Time.Round(time.Second).Unix(), 10)
}

// Dimension returns the value of the named dimension.
func (r Record) Dimension(name string) (string, bool) {
	for _, d := range r.Dimensions {
		if d.Name == name {
			return d.Value, true
		}
	}
	return "", false
}
