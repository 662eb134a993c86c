package cluster

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Spec lists the addresses of every task in the cluster
type Spec struct {
	ParameterServers []string `yaml:"ps"`
	Workers          []string `yaml:"worker"`
}

// LoadSpec reads a cluster file
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster file: %v", err)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse cluster file: %v", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks that the cluster has exactly one parameter server and at
// least one worker
func (s *Spec) Validate() error {
	if len(s.ParameterServers) != 1 {
		return fmt.Errorf("cluster needs exactly one parameter server, got %d", len(s.ParameterServers))
	}
	if len(s.Workers) == 0 {
		return fmt.Errorf("cluster needs at least one worker")
	}
	for _, addr := range append(append([]string{}, s.ParameterServers...), s.Workers...) {
		if addr == "" {
			return fmt.Errorf("cluster file contains an empty address")
		}
	}
	return nil
}

// NumWorkers returns the number of worker replicas
func (s *Spec) NumWorkers() int {
	return len(s.Workers)
}

// Address returns the address of a task
func (s *Spec) Address(job string, task int) (string, error) {
	var addrs []string
	switch job {
	case JobWorker:
		addrs = s.Workers
	case JobParameterServer:
		addrs = s.ParameterServers
	default:
		return "", fmt.Errorf("unknown job: %s", job)
	}
	if task < 0 || task >= len(addrs) {
		return "", fmt.Errorf("no %s task %d in cluster of %d", job, task, len(addrs))
	}
	return addrs[task], nil
}
