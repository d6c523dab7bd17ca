package enums

import (
	"fmt"
	"strings"
)

// IssueStatus is the operator-facing lifecycle of an issue.
type IssueStatus string

const (
	IssueStatusOpen   IssueStatus = "OPEN"
	IssueStatusClosed IssueStatus = "CLOSED"
)

var validIssueStatuses = []IssueStatus{
	IssueStatusOpen,
	IssueStatusClosed,
}

func (s IssueStatus) String() string {
	return string(s)
}

func (s IssueStatus) IsValid() bool {
	for _, candidate := range validIssueStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseIssueStatus accepts either case ("open", "OPEN").
func ParseIssueStatus(value string) (IssueStatus, error) {
	upper := IssueStatus(strings.ToUpper(strings.TrimSpace(value)))
	for _, candidate := range validIssueStatuses {
		if candidate == upper {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid issue status %q", value)
}
