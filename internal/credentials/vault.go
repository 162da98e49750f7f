// Package credentials stores provider secrets per owner and resolves them for
// nodes at run time.
package credentials

import (
	"context"
	"errors"

	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// CredentialStore is the persistence the vault needs. Satisfied by store.Store.
type CredentialStore interface {
	PutCredential(ctx context.Context, cred *store.Credential) error
	GetCredential(ctx context.Context, id, ownerID string) (*store.Credential, error)
	ListCredentials(ctx context.Context, ownerID string) ([]*store.Credential, error)
	DeleteCredential(ctx context.Context, id, ownerID string) error
}

// Resolver hands a node the plaintext value of one of its owner's credentials.
type Resolver interface {
	Resolve(ctx context.Context, runner steps.Runner, nodeID, credentialID, ownerID string) (string, error)
}

// Vault keeps credential values sealed at rest. With a nil Cipher values are
// stored as given.
type Vault struct {
	store  CredentialStore
	cipher *Cipher
}

// NewVault wraps a CredentialStore.
func NewVault(s CredentialStore, c *Cipher) *Vault {
	return &Vault{store: s, cipher: c}
}

// Put seals cred.Value and upserts the credential.
func (v *Vault) Put(ctx context.Context, cred store.Credential) error {
	if cred.ID == "" || cred.OwnerID == "" {
		return schema.NewError(schema.ErrCodeValidation, "credential id and owner are required")
	}
	if v.cipher != nil {
		sealed, err := v.cipher.Seal(cred.Value)
		if err != nil {
			return err
		}
		cred.Value = sealed
	}
	return v.store.PutCredential(ctx, &cred)
}

// List returns the owner's credentials without values.
func (v *Vault) List(ctx context.Context, ownerID string) ([]*store.Credential, error) {
	return v.store.ListCredentials(ctx, ownerID)
}

// Delete removes one of the owner's credentials.
func (v *Vault) Delete(ctx context.Context, id, ownerID string) error {
	return v.store.DeleteCredential(ctx, id, ownerID)
}

// Resolve looks the credential up through the step runner under
// "<nodeID>/get-credential", then opens it in memory. Only the stored (sealed)
// form is recorded as the step result.
func (v *Vault) Resolve(ctx context.Context, runner steps.Runner, nodeID, credentialID, ownerID string) (string, error) {
	if credentialID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "credentialId is required").WithNode(nodeID)
	}

	stored, err := steps.Do(ctx, runner, nodeID+"/get-credential", func(ctx context.Context) (string, error) {
		cred, err := v.store.GetCredential(ctx, credentialID, ownerID)
		if err != nil {
			return "", err
		}
		return cred.Value, nil
	})
	if err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			return "", schema.NewErrorf(schema.ErrCodeCredential, "credential %s not found", credentialID).
				WithNode(nodeID).WithCause(err)
		}
		return "", err
	}

	if v.cipher == nil {
		return stored, nil
	}
	plain, err := v.cipher.Open(stored)
	if err != nil {
		var fe *schema.FlowError
		if errors.As(err, &fe) {
			fe.WithNode(nodeID)
		}
		return "", err
	}
	return plain, nil
}

var _ Resolver = (*Vault)(nil)
