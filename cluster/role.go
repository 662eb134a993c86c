package cluster

import (
	"fmt"
)

// Role is the part a process plays in a training cluster
type Role int

const (
	RoleChief Role = iota
	RoleWorker
	RoleParameterServer
)

// Job names used in the cluster file and on the command line
const (
	JobWorker          = "worker"
	JobParameterServer = "ps"
)

func (r Role) String() string {
	switch r {
	case RoleChief:
		return "chief"
	case RoleWorker:
		return "worker"
	case RoleParameterServer:
		return "ps"
	default:
		return "unknown"
	}
}

// IsChief reports whether the role writes the final checkpoint
func (r Role) IsChief() bool {
	return r == RoleChief
}

// ParseRole maps a job name and task index onto a role. Task 0 of the worker
// job is the chief.
func ParseRole(job string, task int) (Role, error) {
	if task < 0 {
		return 0, fmt.Errorf("task index cannot be negative: %d", task)
	}
	switch job {
	case JobWorker:
		if task == 0 {
			return RoleChief, nil
		}
		return RoleWorker, nil
	case JobParameterServer:
		return RoleParameterServer, nil
	default:
		return 0, fmt.Errorf("unknown job: %s", job)
	}
}

// ReplicaID names the worker replica with the given task index
func ReplicaID(task int) string {
	return fmt.Sprintf("%s/%d", JobWorker, task)
}
