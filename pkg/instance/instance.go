package instance

import "github.com/angelmondragon/storefront-cart/pkg/env"

// GetID identifies this process in logs and health output: an explicit
// instance id, then the platform dyno or pod hostname, then "local".
func GetID() string {
	return env.First("local", "STOREFRONT_INSTANCE_ID", "DYNO", "HOSTNAME")
}
