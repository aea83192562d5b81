package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"civicflow/internal/audit"
	"civicflow/internal/domain"
	"civicflow/internal/repo"
)

// SetOfficerActive toggles whether an officer can receive new tasks. Existing
// tasks are left in place.
func (e Engine) SetOfficerActive(ctx context.Context, officerID int64, active bool, actor domain.Actor) (domain.Officer, error) {
	if err := validateActor(actor); err != nil {
		return domain.Officer{}, err
	}
	var o domain.Officer
	err := e.inTx(ctx, "officer", officerID, func(tx *sql.Tx) error {
		var err error
		if o, err = e.Repo.GetOfficerTx(ctx, tx, officerID); err != nil {
			return notFound(err, "officer", officerID)
		}
		if o.Active == active {
			return nil
		}
		if err := e.Repo.SetOfficerActive(ctx, tx, officerID, active); err != nil {
			return err
		}
		o.Active = active
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.OfficerUpdated,
			Actor:        actor,
			ResourceType: "officer",
			ResourceID:   officerID,
			Metadata:     audit.Metadata{"active": active},
		})
	})
	return o, err
}

// IssuedKey is a freshly minted API key. Secret is only available here; the
// store keeps its hash.
type IssuedKey struct {
	domain.APIKey
	Secret string `json:"secret"`
}

// IssueAPIKey mints a key that authenticates as the given actor.
func (e Engine) IssueAPIKey(ctx context.Context, holder domain.Actor, name string, actor domain.Actor) (IssuedKey, error) {
	if err := validateActor(actor); err != nil {
		return IssuedKey{}, err
	}
	if strings.TrimSpace(holder.ID) == "" {
		return IssuedKey{}, domain.ValidationError{Field: "actor_id", Reason: "key holder is required"}
	}
	if !holder.Role.Valid() {
		return IssuedKey{}, domain.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", holder.Role)}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return IssuedKey{}, fmt.Errorf("generate key: %w", err)
	}
	secret := "cf_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   holder.ID,
		Role:      holder.Role,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.stamp(),
	}
	err := e.inTx(ctx, "api_key", 0, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return fmt.Errorf("insert api key: %w", err)
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.APIKeyIssued,
			Actor:        actor,
			ResourceType: "api_key",
			ResourceKey:  key.ID,
			Metadata:     audit.Metadata{"holder": key.ActorID, "role": key.Role, "name": key.Name},
		})
	})
	if err != nil {
		return IssuedKey{}, err
	}
	return IssuedKey{APIKey: key, Secret: secret}, nil
}

// RevokeAPIKey deletes a key by id.
func (e Engine) RevokeAPIKey(ctx context.Context, id string, actor domain.Actor) error {
	if err := validateActor(actor); err != nil {
		return err
	}
	return e.inTx(ctx, "api_key", 0, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.NotFoundError{Resource: "api_key", ID: id}
			}
			return err
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.APIKeyRevoked,
			Actor:        actor,
			ResourceType: "api_key",
			ResourceKey:  id,
		})
	})
}
