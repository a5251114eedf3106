package model

// ContainerSpec is the subset of a container-creation request the control
// plane inspects and mutates. It is treated as an immutable value on input;
// hardening produces a new copy and never mutates the caller's spec.
type ContainerSpec struct {
	// Image is the container image reference, e.g. "node:20-alpine".
	Image string `json:"image"`

	// User is a user name or numeric UID string. Empty means the image
	// default; hardening substitutes a non-root UID in that case.
	User string `json:"user,omitempty"`

	// Env holds KEY=VALUE environment entries.
	Env []string `json:"env,omitempty"`

	// Cmd overrides the image entry command.
	Cmd []string `json:"cmd,omitempty"`

	// WorkingDir is the initial working directory inside the container.
	WorkingDir string `json:"workingDir,omitempty"`

	// Labels are attached to the created container.
	Labels map[string]string `json:"labels,omitempty"`

	HostConfig HostConfig `json:"hostConfig"`
}

// HostConfig mirrors the host-level settings the security layer cares about.
// Resource fields pass through hardening untouched.
type HostConfig struct {
	Privileged  bool     `json:"privileged,omitempty"`
	Binds       []string `json:"binds,omitempty"` // "host:container[:mode]"
	CapDrop     []string `json:"capDrop,omitempty"`
	SecurityOpt []string `json:"securityOpt,omitempty"`
	ReadOnlyFS  bool     `json:"readOnlyRootFs,omitempty"`

	Memory    int64 `json:"memory,omitempty"`   // bytes
	NanoCPUs  int64 `json:"nanoCpus,omitempty"` // 1e9 = one CPU
	PidsLimit int64 `json:"pidsLimit,omitempty"`
}

// Clone returns a deep copy of the spec.
func (s ContainerSpec) Clone() ContainerSpec {
	out := s
	out.Env = append([]string(nil), s.Env...)
	out.Cmd = append([]string(nil), s.Cmd...)
	if s.Labels != nil {
		out.Labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			out.Labels[k] = v
		}
	}
	out.HostConfig.Binds = append([]string(nil), s.HostConfig.Binds...)
	out.HostConfig.CapDrop = append([]string(nil), s.HostConfig.CapDrop...)
	out.HostConfig.SecurityOpt = append([]string(nil), s.HostConfig.SecurityOpt...)
	return out
}
