package security

import (
	"sandboxd/internal/controlplane/model"
)

const noNewPrivileges = "no-new-privileges:true"

// Harden returns a reduced-privilege copy of the spec. It is deliberately
// independent of Validate: validation can reject a spec outright, while
// hardening normalizes any spec that is allowed to proceed, including ones a
// trusted caller chose not to validate. The input is never mutated.
func Harden(spec model.ContainerSpec, policy Policy) model.ContainerSpec {
	out := spec.Clone()

	// Default-deny capabilities regardless of what the caller asked for.
	out.HostConfig.CapDrop = []string{"ALL"}
	if len(policy.DropCapabilities) > 0 {
		out.HostConfig.CapDrop = append([]string(nil), policy.DropCapabilities...)
	}

	if !hasSecurityOpt(out.HostConfig.SecurityOpt, noNewPrivileges) {
		out.HostConfig.SecurityOpt = append(out.HostConfig.SecurityOpt, noNewPrivileges)
	}

	out.HostConfig.Privileged = false

	if out.User == "" || isRootUser(out.User) {
		out.User = DefaultNonRootUID
	}

	out.HostConfig.Binds = stripDockerSocketBinds(out.HostConfig.Binds)

	if policy.ReadOnlyRootFS {
		out.HostConfig.ReadOnlyFS = true
	}

	return out
}

// stripDockerSocketBinds drops entries whose host side is the docker socket,
// preserving every other bind unchanged and in order.
func stripDockerSocketBinds(binds []string) []string {
	if len(binds) == 0 {
		return binds
	}
	out := make([]string, 0, len(binds))
	for _, bind := range binds {
		if bindHostPath(bind) == DockerSocketPath {
			continue
		}
		out = append(out, bind)
	}
	return out
}

func hasSecurityOpt(opts []string, want string) bool {
	for _, opt := range opts {
		if opt == want {
			return true
		}
	}
	return false
}
