package network

import (
	"fmt"
	"hash/fnv"
)

// SubnetForEnvironment derives a /24 subnet in 172.16.0.0/12 from the
// environment id. The hash folds into the two variable octets, so two
// distinct environments can collide; the daemon rejects the duplicate
// subnet in that case and environment creation fails visibly. A reservation
// table would be needed to rule collisions out entirely.
func SubnetForEnvironment(environmentID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(environmentID))
	sum := h.Sum32()

	second := 16 + (sum>>8)%16 // 172.16 - 172.31
	third := sum % 256
	return fmt.Sprintf("172.%d.%d.0/24", second, third)
}

// GatewayForSubnet returns the conventional .1 gateway of a /24 subnet
// produced by SubnetForEnvironment.
func GatewayForSubnet(subnet string) string {
	var second, third uint32
	if _, err := fmt.Sscanf(subnet, "172.%d.%d.0/24", &second, &third); err != nil {
		return ""
	}
	return fmt.Sprintf("172.%d.%d.1", second, third)
}
