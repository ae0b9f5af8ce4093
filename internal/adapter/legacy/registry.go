// Package legacy imports the JSON user registry of the previous deployment.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/auth"
)

// fernetPrefix starts every token sealed with the old deployment's key. Those
// tokens cannot be recovered here and must be entered again.
const fernetPrefix = "gAAAAA"

// User is one entry of users.json.
type User struct {
	Password      string `json:"password"`
	Name          string `json:"name"`
	Token         string `json:"token"`
	Role          string `json:"role"`
	Active        *bool  `json:"active"`
	MPAccessToken string `json:"mp_access_token"`
}

// Registry maps login ids to users.
type Registry map[string]User

// ReadRegistry decodes users.json.
func ReadRegistry(r io.Reader) (Registry, error) {
	var reg Registry
	if err := json.NewDecoder(r).Decode(&reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return reg, nil
}

// Report summarizes an import.
type Report struct {
	Imported           int
	Skipped            int
	HashedPasswords    int
	CredentialsDropped int
}

// Importer writes registry users as tenants.
type Importer struct {
	tenants domain.TenantRepository
	sealer  domain.CredentialSealer
	logger  *slog.Logger
	// DryRun validates and reports without writing.
	DryRun bool
}

func NewImporter(tenants domain.TenantRepository, sealer domain.CredentialSealer, logger *slog.Logger) *Importer {
	return &Importer{tenants: tenants, sealer: sealer, logger: logger.With("component", "legacy_import")}
}

// Import upserts every user in id order. Invalid entries and device token
// conflicts are skipped; storage errors abort the run.
func (im *Importer) Import(ctx context.Context, reg Registry) (Report, error) {
	var rep Report
	ids := make([]string, 0, len(reg))
	for id := range reg {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		t, err := im.convert(ctx, strings.TrimSpace(id), reg[id], &rep)
		if err != nil {
			if errors.Is(err, domain.ErrBadInput) {
				im.logger.Warn("skipping user", "id", id, "reason", err)
				rep.Skipped++
				continue
			}
			return rep, err
		}
		if im.DryRun {
			rep.Imported++
			continue
		}

		if err := im.tenants.Upsert(ctx, t); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				im.logger.Warn("skipping user, device token already in use", "id", id)
				rep.Skipped++
				continue
			}
			return rep, fmt.Errorf("import %s: %w", id, err)
		}
		rep.Imported++
	}
	return rep, nil
}

func (im *Importer) convert(ctx context.Context, key string, u User, rep *Report) (*domain.Tenant, error) {
	if key == "" {
		return nil, domain.BadInput("empty id")
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(u.Role)))
	if role == "" {
		role = domain.RoleClient
	}
	if !role.Valid() {
		return nil, domain.BadInput("unknown role %q", u.Role)
	}
	if u.Password == "" {
		return nil, domain.BadInput("no password")
	}

	t := &domain.Tenant{
		Key:          key,
		Name:         strings.TrimSpace(u.Name),
		DeviceToken:  strings.TrimSpace(u.Token),
		Role:         role,
		Active:       u.Active == nil || *u.Active,
		PasswordHash: u.Password,
	}
	if t.Name == "" {
		t.Name = key
	}

	// werkzeug hashes are kept and upgraded on the next login.
	if !auth.IsHashed(u.Password) {
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", key, err)
		}
		t.PasswordHash = hash
		rep.HashedPasswords++
	}

	credential := strings.TrimSpace(u.MPAccessToken)
	switch {
	case credential == "":
	case strings.HasPrefix(credential, fernetPrefix):
		im.logger.Warn("provider credential is sealed with the old key, set it again through the admin API", "id", key)
		rep.CredentialsDropped++
	default:
		sealed, err := im.sealer.Seal(credential)
		if err != nil {
			return nil, fmt.Errorf("seal credential for %s: %w", key, err)
		}
		t.SealedCredential = sealed
	}

	// Re-running the import must not wipe a credential set since the first run.
	if t.SealedCredential == nil {
		existing, err := im.tenants.FindByKey(ctx, key)
		switch {
		case err == nil:
			t.SealedCredential = existing.SealedCredential
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("find %s: %w", key, err)
		}
	}
	return t, nil
}
