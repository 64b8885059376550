package federation

import "context"

// ProviderConfig is one identity provider's federation settings.
type ProviderConfig struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	ClientID      string   `json:"client_id"`
	Enabled       bool     `json:"enabled"`
	DefaultGroups []string `json:"default_groups"`
}

// ConfigStore reads provider configurations from the persistence
// collaborator.
type ConfigStore interface {
	List(ctx context.Context) ([]ProviderConfig, error)
	ByProvider(ctx context.Context, provider string) ([]ProviderConfig, error)
}

// LocalProvider is the server's own identity; it is excluded from the
// advertised external provider list.
const LocalProvider = "gatekit"

// GoogleProvider is the only provider with a specified federation flow.
const GoogleProvider = "google"
