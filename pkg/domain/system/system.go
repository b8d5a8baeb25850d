// Package system is the singleton settings entity.
//
// There is no dedicated storage: the settings ride on the everyone
// group's attributes, so every deployment has exactly one copy and it
// survives with the identity realm.
package system

import (
	"context"
	"fmt"

	"github.com/labstack/gommon/log"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/audit"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/attrs"
	"github.com/opst/adminhub/pkg/domain/auth"
)

// Schema types the settings attributes.
var Schema = attrs.Schema{
	"orgName":                   attrs.String{},
	"orgLogoUrl":                attrs.String{},
	"defaultUserVolumeCapacity": attrs.DiskQuota{},
	"timezone":                  attrs.String{},
	"smtpHost":                  attrs.String{},
	"smtpPort":                  attrs.Int{},
	"smtpFromEmail":             attrs.String{},
	"smtpFromDisplayName":       attrs.String{},
}

type Config struct {
	Identity      keycloak.IdentityStore
	EveryoneGroup string

	Audit  audit.Recorder
	Logger *log.Logger
}

type Resolver struct {
	identity      keycloak.IdentityStore
	everyoneGroup string
	audit         audit.Recorder
	logger        *log.Logger
}

func New(config Config) *Resolver {
	logger := config.Logger
	if logger == nil {
		logger = log.New("system")
	}
	return &Resolver{
		identity:      config.Identity,
		everyoneGroup: config.EveryoneGroup,
		audit:         config.Audit,
		logger:        logger,
	}
}

func (r *Resolver) everyone(ctx context.Context) (*keycloak.Group, error) {
	group, err := r.identity.FindGroupByName(ctx, r.everyoneGroup)
	if err != nil {
		return nil, apierr.Wrap(
			apierr.UpstreamError,
			fmt.Sprintf("everyone group %q is not resolvable", r.everyoneGroup),
			err,
		)
	}
	return group, nil
}

// Query reads the settings.
func (r *Resolver) Query(ctx context.Context) (domain.Record, error) {
	group, err := r.everyone(ctx)
	if err != nil {
		return nil, err
	}

	attributes, aerr := attrs.FromBag(Schema, group.Attributes)
	if aerr != nil {
		r.logger.Warnj(log.JSON{"component": "system", "warning": aerr.Error()})
	}
	record := domain.Record{}
	for field := range Schema {
		record[field] = attributes.Get(field)
	}
	return record, nil
}

// Update merges the given settings and returns the full settings record.
func (r *Resolver) Update(ctx context.Context, actor auth.Actor, data map[string]any) (domain.Record, error) {
	group, err := r.everyone(ctx)
	if err != nil {
		return nil, err
	}

	attributes, aerr := attrs.FromBag(Schema, group.Attributes)
	if aerr != nil {
		r.logger.Warnj(log.JSON{"component": "system", "warning": aerr.Error()})
	}
	attributes.MergeWithData(data)
	bag, err := attributes.ToBag()
	if err != nil {
		return nil, err
	}
	group.Attributes = bag

	if err := r.identity.UpdateGroup(ctx, *group); err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "updating system settings failed", err)
	}
	if r.audit != nil {
		err := r.audit.Record(ctx, audit.Entry{
			Component: "system",
			Type:      "UPDATE",
			UserID:    actor.UserID,
			Username:  actor.Username,
		})
		if err != nil {
			r.logger.Errorj(log.JSON{"component": "system", "error": "audit record failed: " + err.Error()})
		}
	}
	return r.Query(ctx)
}
