package broker

import (
	"strings"

	"github.com/Rensir56/SegTool-for-Jade/task"
)

// Stream and subject layout.
const (
	TaskStream       = "SEGTOOL_TASKS"
	DeadLetterStream = "SEGTOOL_DLQ"

	SubjectPrefix     = "segtool.tasks"
	DeadLetterSubject = SubjectPrefix + ".dlq"
)

// Topic returns the topic for a priority, e.g. segtool.tasks.high.
func Topic(p task.Priority) string {
	return SubjectPrefix + "." + strings.ToLower(string(p))
}

// Topics returns the four priority topics, lowest priority first.
func Topics() []string {
	prios := task.Priorities()
	out := make([]string, 0, len(prios))
	for _, p := range prios {
		out = append(out, Topic(p))
	}
	return out
}

// Subject returns the publish subject for a message.
func Subject(p task.Priority, t task.Type) string {
	return Topic(p) + "." + strings.ToLower(string(t))
}

// TypeFilter matches every priority topic for one message type.
func TypeFilter(t task.Type) string {
	return SubjectPrefix + ".*." + strings.ToLower(string(t))
}

// DurableName names the consumer of one message type within a group.
func DurableName(group string, t task.Type) string {
	return group + "-" + strings.ToLower(string(t))
}

// subjectType extracts the type token from a task subject. It returns false
// for subjects outside the task stream layout.
func subjectType(subject string) (task.Type, bool) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix+".")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 2 {
		return "", false
	}
	t := task.Type(strings.ToUpper(parts[1]))
	return t, t.Valid()
}

// taskSubjects is the subject space bound to the task stream.
func taskSubjects() []string {
	prios := task.Priorities()
	out := make([]string, 0, len(prios))
	for _, p := range prios {
		out = append(out, Topic(p)+".*")
	}
	return out
}
