package security

import (
	"fmt"
	"strings"

	"sandboxd/internal/controlplane/model"
)

// ViolationError aggregates every policy rule a spec failed. Callers render
// the whole list in one response instead of failing on the first problem.
type ViolationError struct {
	Violations []string
}

func (e *ViolationError) Error() string {
	return "security policy violations: " + strings.Join(e.Violations, "; ")
}

// Validate checks a container spec against the policy. All rules are
// evaluated; the returned *ViolationError carries one entry per violated
// rule. A nil return means the spec may proceed to hardening and launch.
func Validate(spec model.ContainerSpec, policy Policy) error {
	var violations []string

	if v := checkImage(spec.Image, policy); v != "" {
		violations = append(violations, v)
	}

	if policy.PreventDockerSocket {
		for _, bind := range spec.HostConfig.Binds {
			if bindHostPath(bind) == DockerSocketPath {
				violations = append(violations,
					fmt.Sprintf("bind mount %q exposes the docker socket", bind))
			}
		}
	}

	if policy.PreventPrivilegeEscalation && spec.HostConfig.Privileged {
		violations = append(violations, "privileged mode is not permitted")
	}

	if policy.EnforceNonRoot && isRootUser(spec.User) {
		violations = append(violations,
			fmt.Sprintf("container user %q is root; a non-root user is required", spec.User))
	}

	if len(violations) > 0 {
		return &ViolationError{Violations: violations}
	}
	return nil
}

func checkImage(image string, policy Policy) string {
	if image == "" {
		return "container image is required"
	}

	for _, pattern := range policy.BlockedImages {
		if matchImage(pattern, image) {
			return fmt.Sprintf("image %q matches blocked pattern %q", image, pattern)
		}
	}

	allowed := false
	for _, pattern := range policy.AllowedImages {
		if matchImage(pattern, image) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Sprintf("image %q does not match any allowed image pattern", image)
	}
	return ""
}

// bindHostPath extracts the host side of a "host:container[:mode]" bind.
func bindHostPath(bind string) string {
	idx := strings.Index(bind, ":")
	if idx < 0 {
		return bind
	}
	return bind[:idx]
}

// isRootUser reports whether the user requests root explicitly. An unset
// user is not a violation; hardening fills the non-root default later.
func isRootUser(user string) bool {
	return user == "root" || user == "0"
}
