package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/aweris/chonky/internal/digest"
	"github.com/aweris/chonky/internal/store"
)

// OCI stores objects as uncompressed blobs in a registry repository.
// Objects are addressed by "sha256:<hex>", so the registry's own content
// digest is the object digest and no tag or image manifest is involved.
type OCI struct {
	repo name.Repository
	auth Authenticator
}

// NewOCI creates a store for a repository (e.g., "ghcr.io/acme/assets").
func NewOCI(repository string, insecure bool, auth Authenticator) (*OCI, error) {
	var opts []name.Option
	if insecure {
		opts = append(opts, name.Insecure)
	}
	repo, err := name.NewRepository(repository, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: repository %q: %v", ErrInvalidConfig, repository, err)
	}
	return &OCI{repo: repo, auth: auth}, nil
}

func (o *OCI) String() string { return o.repo.String() }

func (o *OCI) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	layer, err := o.layer(ctx, d)
	if err != nil {
		return false, err
	}
	if _, err := layer.Size(); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, transferError("stat", d, err)
	}
	return true, nil
}

func (o *OCI) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	layer, err := o.layer(ctx, d)
	if err != nil {
		return nil, err
	}

	rc, err := layer.Compressed()
	if err != nil {
		return nil, transferError("get", d, err)
	}
	data, err := io.ReadAll(rc)
	if cerr := rc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, transferError("get", d, err)
	}
	return data, nil
}

func (o *OCI) Put(ctx context.Context, d digest.Digest, data []byte) error {
	opts, err := o.options(ctx)
	if err != nil {
		return err
	}

	layer := static.NewLayer(data, types.OCIUncompressedLayer)
	got, err := layer.Digest()
	if err != nil {
		return fmt.Errorf("digest layer: %w", err)
	}
	if got.String() != d.OCI() {
		return fmt.Errorf("%w: blob digest %s, want %s", store.ErrHashMismatch, got, d.OCI())
	}

	// WriteLayer checks for the blob first and skips existing ones.
	if err := remote.WriteLayer(o.repo, layer, opts...); err != nil {
		return transferError("put", d, err)
	}
	return nil
}

// Delete removes a blob through the distribution API. Registries that do
// not support deletion report an error.
func (o *OCI) Delete(ctx context.Context, d digest.Digest) error {
	auth, err := resolveAuth(o.repo, o.auth)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	rt, err := transport.NewWithContext(ctx, o.repo.Registry, auth, http.DefaultTransport, []string{o.repo.Scope(transport.DeleteScope)})
	if err != nil {
		return transferError("delete", d, err)
	}

	u := url.URL{
		Scheme: o.repo.Registry.Scheme(),
		Host:   o.repo.RegistryStr(),
		Path:   fmt.Sprintf("/v2/%s/blobs/%s", o.repo.RepositoryStr(), d.OCI()),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := (&http.Client{Transport: rt}).Do(req)
	if err != nil {
		return transferError("delete", d, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return transferError("delete", d, transport.CheckError(resp, http.StatusAccepted))
}

func (o *OCI) layer(ctx context.Context, d digest.Digest) (v1.Layer, error) {
	opts, err := o.options(ctx)
	if err != nil {
		return nil, err
	}
	layer, err := remote.Layer(o.repo.Digest(d.OCI()), opts...)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, d.Short())
		}
		return nil, transferError("open", d, err)
	}
	return layer, nil
}

func (o *OCI) options(ctx context.Context) ([]remote.Option, error) {
	auth, err := resolveAuth(o.repo, o.auth)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	return []remote.Option{remote.WithContext(ctx), remote.WithAuth(auth)}, nil
}

func isNotFound(err error) bool {
	var terr *transport.Error
	return errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound
}

func transferError(op string, d digest.Digest, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, d.Short())
	}
	return fmt.Errorf("%w: %s %s: %w", store.ErrTransfer, op, d.Short(), err)
}
