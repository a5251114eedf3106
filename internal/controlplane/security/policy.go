// Package security validates and hardens container launch specifications
// before they reach the Docker daemon. Validation rejects disallowed specs
// with every violated rule reported; hardening is an independent best-effort
// normalization applied to specs that are allowed to proceed.
package security

import "strings"

// DockerSocketPath is the host path whose bind-mounting hands a container
// full control of the daemon.
const DockerSocketPath = "/var/run/docker.sock"

// DefaultNonRootUID is substituted when a spec leaves the user unset or
// requests root.
const DefaultNonRootUID = "1000"

// IsolationMode controls whether per-environment networks are internal.
type IsolationMode string

const (
	IsolationNone     IsolationMode = "none"
	IsolationIsolated IsolationMode = "isolated"
)

// Policy is the named set of rules a container spec must satisfy. Values are
// immutable; build relaxed variants with Merge rather than mutating.
type Policy struct {
	AllowedImages              []string      `yaml:"allowedImages"`
	BlockedImages              []string      `yaml:"blockedImages"`
	PreventDockerSocket        bool          `yaml:"preventDockerSocket"`
	EnforceNonRoot             bool          `yaml:"enforceNonRoot"`
	PreventPrivilegeEscalation bool          `yaml:"preventPrivilegeEscalation"`
	DropCapabilities           []string      `yaml:"dropCapabilities"`
	NetworkIsolation           IsolationMode `yaml:"networkIsolation"`
	ReadOnlyRootFS             bool          `yaml:"readOnlyRootFs"`
}

// DefaultPolicy returns the hardened baseline. Tag-pinning is mandatory:
// ":latest" and docker-in-docker images are blocked unconditionally.
func DefaultPolicy() Policy {
	return Policy{
		AllowedImages:              []string{"*"},
		BlockedImages:              []string{"*:latest", "docker:*", "*-dind"},
		PreventDockerSocket:        true,
		EnforceNonRoot:             true,
		PreventPrivilegeEscalation: true,
		DropCapabilities:           []string{"ALL"},
		NetworkIsolation:           IsolationIsolated,
		ReadOnlyRootFS:             false,
	}
}

// Overrides relaxes or tightens individual policy switches. Nil fields keep
// the base policy's value; trusted internal callers use this to disable
// single rules without rebuilding the whole policy.
type Overrides struct {
	AllowedImages              []string       `json:"allowedImages,omitempty"`
	BlockedImages              []string       `json:"blockedImages,omitempty"`
	PreventDockerSocket        *bool          `json:"preventDockerSocket,omitempty"`
	EnforceNonRoot             *bool          `json:"enforceNonRoot,omitempty"`
	PreventPrivilegeEscalation *bool          `json:"preventPrivilegeEscalation,omitempty"`
	DropCapabilities           []string       `json:"dropCapabilities,omitempty"`
	NetworkIsolation           *IsolationMode `json:"networkIsolation,omitempty"`
	ReadOnlyRootFS             *bool          `json:"readOnlyRootFs,omitempty"`
}

// Merge returns a copy of p with non-nil override fields applied.
func (p Policy) Merge(o *Overrides) Policy {
	if o == nil {
		return p
	}
	out := p
	if o.AllowedImages != nil {
		out.AllowedImages = o.AllowedImages
	}
	if o.BlockedImages != nil {
		out.BlockedImages = o.BlockedImages
	}
	if o.PreventDockerSocket != nil {
		out.PreventDockerSocket = *o.PreventDockerSocket
	}
	if o.EnforceNonRoot != nil {
		out.EnforceNonRoot = *o.EnforceNonRoot
	}
	if o.PreventPrivilegeEscalation != nil {
		out.PreventPrivilegeEscalation = *o.PreventPrivilegeEscalation
	}
	if o.DropCapabilities != nil {
		out.DropCapabilities = o.DropCapabilities
	}
	if o.NetworkIsolation != nil {
		out.NetworkIsolation = *o.NetworkIsolation
	}
	if o.ReadOnlyRootFS != nil {
		out.ReadOnlyRootFS = *o.ReadOnlyRootFS
	}
	return out
}

// matchImage reports whether an image reference matches a pattern. Patterns
// support a single '*' wildcard per path or tag segment and are exact
// otherwise. A pattern without a tag part matches any tag; a pattern without
// a repository path matches the image's final name segment, so "*-dind"
// catches "myorg/builder-dind:1.2" as well.
func matchImage(pattern, image string) bool {
	if pattern == "" || image == "" {
		return false
	}

	patName, patTag, patHasTag := splitRef(pattern)
	imgName, imgTag, imgHasTag := splitRef(image)
	if !imgHasTag {
		// An untagged reference means ":latest" to the daemon; match it
		// that way so "*:latest" blocks bare image names too.
		imgTag = "latest"
	}

	if patHasTag && !matchSegment(patTag, imgTag) {
		return false
	}

	patSegs := strings.Split(patName, "/")
	imgSegs := strings.Split(imgName, "/")
	if len(patSegs) == 1 {
		return matchSegment(patSegs[0], imgSegs[len(imgSegs)-1])
	}
	if len(patSegs) != len(imgSegs) {
		return false
	}
	for i := range patSegs {
		if !matchSegment(patSegs[i], imgSegs[i]) {
			return false
		}
	}
	return true
}

// splitRef splits "name:tag" on the tag colon. Colons inside a registry
// host:port prefix are left alone.
func splitRef(ref string) (name, tag string, hasTag bool) {
	idx := strings.LastIndex(ref, ":")
	if idx < 0 || strings.Contains(ref[idx+1:], "/") {
		return ref, "", false
	}
	return ref[:idx], ref[idx+1:], true
}

// matchSegment matches one segment against a pattern holding at most one '*'.
func matchSegment(pattern, s string) bool {
	star := strings.Index(pattern, "*")
	if star < 0 {
		return pattern == s
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return len(s) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(s, prefix) &&
		strings.HasSuffix(s, suffix)
}
