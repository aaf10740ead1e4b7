package sadregistry

import "context"

// Client looks up SAD declarations in the customs registry. ExistingSADs
// answers for a whole batch with a single round trip and returns only the
// numbers that are registered.
type Client interface {
	ExistingSADs(ctx context.Context, sadNos []string) ([]string, error)
}
