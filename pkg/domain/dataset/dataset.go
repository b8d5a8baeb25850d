// Package dataset is the mountable data source entity: git repos,
// injected env vars, or persistent volumes.
package dataset

import (
	"context"
	"fmt"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/conn/k8s"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/relation"
	"github.com/opst/adminhub/pkg/domain/resource"
)

type Type = string

const (
	TypeGit Type = "git"
	TypeEnv Type = "env"
	TypePV  Type = "pv"
)

const RolePrefix = "ds"

// WritableRolePrefix marks groups that may write the dataset, on top of
// the plain visibility role.
const WritableRolePrefix = "ds:rw"

type Adapter struct{}

var _ resource.Adapter = Adapter{}

func (Adapter) Kind() string       { return "dataset" }
func (Adapter) RolePrefix() string { return RolePrefix }

func (Adapter) ToRecord(item k8s.Item) domain.Record {
	spec := item.Spec
	record := domain.Record{
		"id":          item.Metadata.Name,
		"name":        item.Metadata.Name,
		"displayName": stringOr(spec["displayName"], item.Metadata.Name),
		"description": nullable(spec["description"]),
		"type":        stringOr(spec["type"], TypeGit),
	}
	for _, key := range []string{"url", "mountRoot", "volumeName"} {
		if v, ok := spec[key].(string); ok && v != "" {
			record[key] = v
		}
	}
	if v, ok := spec["variables"].(map[string]any); ok {
		record["variables"] = v
	}
	if v, ok := spec["volumeSize"]; ok {
		record["volumeSize"] = v
	}
	if v, ok := spec["launchGroupOnly"].(bool); ok {
		record["launchGroupOnly"] = v
	}
	if v, ok := spec["enableUploadServer"].(bool); ok {
		record["enableUploadServer"] = v
	}
	return record
}

func (Adapter) NewSpec(name string, data map[string]any) (map[string]any, error) {
	datasetType := TypeGit
	if v, ok := data["type"].(string); ok && v != "" {
		datasetType = v
	}
	if err := validateType(datasetType); err != nil {
		return nil, err
	}

	spec := map[string]any{
		"displayName": stringOr(data["displayName"], name),
		"type":        datasetType,
	}
	copyFields(spec, data)
	return spec, nil
}

func (Adapter) SpecPatch(current map[string]any, data map[string]any) (map[string]any, error) {
	if v, ok := data["type"].(string); ok {
		if err := validateType(v); err != nil {
			return nil, err
		}
	}
	fields := map[string]any{}
	if v, ok := data["displayName"]; ok {
		fields["displayName"] = v
	}
	if v, ok := data["type"]; ok {
		fields["type"] = v
	}
	copyFields(fields, data)
	return fields, nil
}

func copyFields(into map[string]any, data map[string]any) {
	for _, key := range []string{
		"description", "url", "variables", "mountRoot",
		"volumeName", "volumeSize", "launchGroupOnly", "enableUploadServer",
	} {
		if v, ok := data[key]; ok {
			into[key] = v
		}
	}
}

func validateType(datasetType string) error {
	switch datasetType {
	case TypeGit, TypeEnv, TypePV:
		return nil
	default:
		return apierr.New(
			apierr.MalformedAttribute,
			fmt.Sprintf("dataset type %q is not one of git, env, pv", datasetType),
		)
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func nullable(v any) any {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return nil
}

// Hooks maintains the writable grants. A group connection may carry
// {"writable": true}; such groups get the rw role beside the plain
// visibility role the engine grants.
type Hooks struct {
	resource.NopHooks
	Perms permissions.Store
}

var _ resource.Hooks = Hooks{}

func writableRole(name string) string {
	return WritableRolePrefix + ":" + name
}

func (h Hooks) applyWritable(ctx context.Context, name string, data map[string]any) error {
	return relation.Mutate(
		ctx,
		relation.DiffOf(data["groups"]),
		func(ctx context.Context, ref relation.Ref) error {
			if writable, _ := ref.Extra["writable"].(bool); writable {
				return h.Perms.GrantGroup(ctx, ref.ID, writableRole(name))
			}
			return h.Perms.RevokeGroup(ctx, ref.ID, writableRole(name))
		},
		func(ctx context.Context, ref relation.Ref) error {
			return h.Perms.RevokeGroup(ctx, ref.ID, writableRole(name))
		},
	)
}

func (h Hooks) AfterCreate(ctx context.Context, record domain.Record, data map[string]any) error {
	name, _ := record["name"].(string)
	return h.applyWritable(ctx, name, data)
}

func (h Hooks) AfterUpdate(ctx context.Context, record domain.Record, data map[string]any) error {
	name, _ := record["name"].(string)
	return h.applyWritable(ctx, name, data)
}

func (h Hooks) AfterDelete(ctx context.Context, name string) error {
	return h.Perms.DeleteRole(ctx, writableRole(name))
}
