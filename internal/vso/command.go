// Package vso writes Azure Pipelines agent logging commands.
package vso

import (
	"fmt"
	"io"
	"strings"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

// TaskResult is the value of the task.complete result property.
type TaskResult string

const (
	Succeeded           TaskResult = "Succeeded"
	SucceededWithIssues TaskResult = "SucceededWithIssues"
	Failed              TaskResult = "Failed"
)

// IssueType is the value of the task.logissue type property.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
)

// Property is one key=value pair of a command. Order is preserved.
type Property struct {
	Key   string
	Value string
}

var (
	messageEscaper  = strings.NewReplacer("%", "%AZP25", "\r", "%0D", "\n", "%0A")
	propertyEscaper = strings.NewReplacer("%", "%AZP25", "\r", "%0D", "\n", "%0A", "]", "%5D", ";", "%3B")
)

// Format renders ##vso[name k=v;...]message with the agent's escaping rules.
func Format(name string, props []Property, message string) string {
	var b strings.Builder
	b.WriteString("##vso[")
	b.WriteString(name)
	if len(props) > 0 {
		b.WriteByte(' ')
		for _, p := range props {
			b.WriteString(p.Key)
			b.WriteByte('=')
			b.WriteString(propertyEscaper.Replace(p.Value))
			b.WriteByte(';')
		}
	}
	b.WriteByte(']')
	b.WriteString(messageEscaper.Replace(message))
	return b.String()
}

// Writer emits commands, one per line.
type Writer struct {
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Command(name string, props []Property, message string) error {
	_, err := fmt.Fprintln(w.out, Format(name, props, message))
	return err
}

func (w *Writer) LogIssue(t IssueType, message string) error {
	return w.Command("task.logissue", []Property{{Key: "type", Value: string(t)}}, message)
}

func (w *Writer) Complete(result TaskResult, message string) error {
	return w.Command("task.complete", []Property{{Key: "result", Value: string(result)}}, message)
}

func (w *Writer) SetVariable(name, value string, secret bool) error {
	props := []Property{{Key: "variable", Value: name}}
	if secret {
		props = append(props, Property{Key: "issecret", Value: "true"})
	}
	return w.Command("task.setvariable", props, value)
}

// ResultFor maps a terminal orchestration state onto a task result.
// A timeout is a warning only when timeoutIsWarning is set.
func ResultFor(state converge.State, timeoutIsWarning bool) TaskResult {
	switch state {
	case converge.StateSucceeded:
		return Succeeded
	case converge.StateTimedOut:
		if timeoutIsWarning {
			return SucceededWithIssues
		}
		return Failed
	default:
		return Failed
	}
}

// Worst returns the least successful of the given results.
func Worst(results ...TaskResult) TaskResult {
	worst := Succeeded
	for _, r := range results {
		switch {
		case r == Failed:
			return Failed
		case r == SucceededWithIssues:
			worst = SucceededWithIssues
		}
	}
	return worst
}
