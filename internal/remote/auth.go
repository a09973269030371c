package remote

import (
	"os"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
)

// Registry credential environment variables.
const (
	EnvRegistryUsername = "CHONKY_REGISTRY_USERNAME"
	EnvRegistryPassword = "CHONKY_REGISTRY_PASSWORD"
)

// Authenticator provides authentication for OCI registry operations.
type Authenticator interface {
	// Authenticate returns credentials for the given registry.
	Authenticate(registry string) (username, password string, err error)
}

// EnvAuthenticator reads credentials from the environment.
type EnvAuthenticator struct{}

// NewEnvAuthenticator creates an authenticator backed by CHONKY_REGISTRY_*.
func NewEnvAuthenticator() *EnvAuthenticator {
	return &EnvAuthenticator{}
}

// Authenticate returns the environment credentials, empty when unset.
func (a *EnvAuthenticator) Authenticate(string) (string, string, error) {
	return os.Getenv(EnvRegistryUsername), os.Getenv(EnvRegistryPassword), nil
}

// resolveAuth prefers explicit credentials and falls back to the docker
// keychain, which yields anonymous access when nothing is configured.
func resolveAuth(repo name.Repository, auth Authenticator) (authn.Authenticator, error) {
	if auth != nil {
		username, password, err := auth.Authenticate(repo.RegistryStr())
		if err != nil {
			return nil, err
		}
		if username != "" {
			return &authn.Basic{Username: username, Password: password}, nil
		}
	}
	return authn.DefaultKeychain.Resolve(repo)
}
