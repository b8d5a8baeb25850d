// Package secret resolves pull/gitsync credentials stored as cluster
// secrets. Secrets have no visibility roles: they are referenced by name
// from images and datasets, and the whole entity is admin-only.
package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/api/types/relay"
	"github.com/opst/adminhub/pkg/audit"
	"github.com/opst/adminhub/pkg/conn/k8s"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/domain/pagination"
)

type Config struct {
	Store  k8s.SecretStore
	Audit  audit.Recorder
	Logger *log.Logger
}

type Resolver struct {
	store  k8s.SecretStore
	audit  audit.Recorder
	logger *log.Logger
}

func New(config Config) *Resolver {
	logger := config.Logger
	if logger == nil {
		logger = log.New("secret")
	}
	return &Resolver{store: config.Store, audit: config.Audit, logger: logger}
}

// toRecord renders a secret without its confidential payload; listings
// show only shape and identity.
func toRecord(secret k8s.Secret) domain.Record {
	record := domain.Record{
		"id":          secret.Name,
		"name":        secret.Name,
		"displayName": secret.DisplayName,
		"type":        string(secret.Type),
	}
	if secret.Type == k8s.SecretTypeDockerConfig {
		record["registryHost"] = secret.RegistryHost
		record["username"] = secret.Username
	}
	return record
}

func (r *Resolver) Query(ctx context.Context, request args.ResourceArgs) ([]domain.Record, error) {
	secrets, err := r.store.List(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "listing secrets failed", err)
	}
	rows := make([]domain.Record, len(secrets))
	for nth, secret := range secrets {
		rows[nth] = toRecord(secret)
	}
	rows = pagination.Filter(rows, request.Where)
	rows = pagination.Sort(rows, request.OrderBy)

	p, err := request.Pagination()
	if err != nil {
		return nil, err
	}
	paged, err := pagination.Paginate(rows, p)
	if err != nil {
		return nil, err
	}
	return paged.Items, nil
}

func (r *Resolver) ConnectionQuery(ctx context.Context, request args.ResourceArgs) (relay.Connection[domain.Record], error) {
	secrets, err := r.store.List(ctx)
	if err != nil {
		return relay.Connection[domain.Record]{}, apierr.Wrap(apierr.UpstreamError, "listing secrets failed", err)
	}
	rows := make([]domain.Record, len(secrets))
	for nth, secret := range secrets {
		rows[nth] = toRecord(secret)
	}
	rows = pagination.Filter(rows, request.Where)
	rows = pagination.Sort(rows, request.OrderBy)

	p, err := request.Pagination()
	if err != nil {
		return relay.Connection[domain.Record]{}, err
	}
	return pagination.ToRelay(rows, p)
}

// QueryOne fetches one secret by name; a missing secret is (nil, nil).
func (r *Resolver) QueryOne(ctx context.Context, name string) (domain.Record, error) {
	secret, err := r.store.Get(ctx, name)
	if errors.Is(err, k8s.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("getting secret %s failed", name), err)
	}
	return toRecord(*secret), nil
}

func fromData(name string, data map[string]any) (k8s.Secret, error) {
	secret := k8s.Secret{Name: name}
	if v, ok := data["displayName"].(string); ok {
		secret.DisplayName = v
	}
	switch t, _ := data["type"].(string); t {
	case "", string(k8s.SecretTypeOpaque):
		secret.Type = k8s.SecretTypeOpaque
	case string(k8s.SecretTypeDockerConfig):
		secret.Type = k8s.SecretTypeDockerConfig
	default:
		return k8s.Secret{}, apierr.New(
			apierr.MalformedAttribute,
			fmt.Sprintf("secret type %q is not one of opaque, kubernetes", t),
		)
	}
	if v, ok := data["secret"].(string); ok {
		secret.Secret = v
	}
	if v, ok := data["registryHost"].(string); ok {
		secret.RegistryHost = v
	}
	if v, ok := data["username"].(string); ok {
		secret.Username = v
	}
	if v, ok := data["password"].(string); ok {
		secret.Password = v
	}
	return secret, nil
}

func (r *Resolver) Create(ctx context.Context, actor auth.Actor, data map[string]any) (domain.Record, error) {
	name, _ := data["name"].(string)
	if name == "" {
		return nil, apierr.New(apierr.MalformedAttribute, "name is required and must be a string")
	}
	secret, err := fromData(name, data)
	if err != nil {
		return nil, err
	}

	created, err := r.store.Create(ctx, secret)
	if err != nil {
		if errors.Is(err, k8s.ErrAlreadyExists) {
			return nil, apierr.New(apierr.UpstreamError, fmt.Sprintf("secret %s already exists", name))
		}
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("creating secret %s failed", name), err)
	}
	r.record(ctx, actor, "CREATE", name)
	return toRecord(*created), nil
}

func (r *Resolver) Update(ctx context.Context, actor auth.Actor, name string, data map[string]any) (domain.Record, error) {
	// the type of an existing secret is fixed
	delete(data, "type")
	secret, err := fromData(name, data)
	if err != nil {
		return nil, err
	}

	updated, err := r.store.Update(ctx, secret)
	if errors.Is(err, k8s.ErrNotFound) {
		return nil, apierr.New(apierr.UpstreamError, fmt.Sprintf("secret %s does not exist", name))
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("updating secret %s failed", name), err)
	}
	r.record(ctx, actor, "UPDATE", name)
	return toRecord(*updated), nil
}

func (r *Resolver) Destroy(ctx context.Context, actor auth.Actor, name string) (domain.Record, error) {
	record, err := r.QueryOne(ctx, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apierr.New(apierr.UpstreamError, fmt.Sprintf("secret %s does not exist", name))
	}

	if err := r.store.Delete(ctx, name); err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("deleting secret %s failed", name), err)
	}
	r.record(ctx, actor, "DELETE", name)
	return domain.Record{"id": name, "name": name}, nil
}

func (r *Resolver) record(ctx context.Context, actor auth.Actor, typ string, target string) {
	if r.audit == nil {
		return
	}
	err := r.audit.Record(ctx, audit.Entry{
		Component: "secret",
		Type:      typ,
		UserID:    actor.UserID,
		Username:  actor.Username,
		Target:    target,
	})
	if err != nil {
		r.logger.Errorj(log.JSON{
			"component": "secret",
			"type":      typ,
			"target":    target,
			"error":     "audit record failed: " + err.Error(),
		})
	}
}
