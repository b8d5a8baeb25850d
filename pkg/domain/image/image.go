// Package image is the container image catalog entity.
package image

import (
	"context"
	"fmt"
	"strings"

	registryname "github.com/google/go-containerregistry/pkg/name"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/conn/k8s"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/resource"
)

// Type says which device flavors an image serves.
type Type = string

const (
	TypeCPU  Type = "cpu"
	TypeGPU  Type = "gpu"
	TypeBoth Type = "both"
)

const RolePrefix = "img"

type Adapter struct{}

var _ resource.Adapter = Adapter{}

func (Adapter) Kind() string       { return "image" }
func (Adapter) RolePrefix() string { return RolePrefix }

func (Adapter) ToRecord(item k8s.Item) domain.Record {
	spec := item.Spec
	record := domain.Record{
		"id":          item.Metadata.Name,
		"name":        item.Metadata.Name,
		"displayName": stringOr(spec["displayName"], item.Metadata.Name),
		"description": nullable(spec["description"]),
		"type":        stringOr(spec["type"], TypeBoth),
		"url":         nullable(spec["url"]),
		"urlForGpu":   nullable(spec["urlForGpu"]),
	}
	if v, ok := spec["useImagePullSecret"].(string); ok && v != "" {
		record["useImagePullSecret"] = v
	}
	if v, ok := spec["groupName"].(string); ok && v != "" {
		record["groupName"] = v
	}
	return record
}

func (Adapter) NewSpec(name string, data map[string]any) (map[string]any, error) {
	imageType := TypeBoth
	if v, ok := data["type"].(string); ok && v != "" {
		imageType = v
	}
	if err := validateType(imageType); err != nil {
		return nil, err
	}

	url := stringOr(data["url"], "")
	if err := validateURL(url); err != nil {
		return nil, err
	}

	spec := map[string]any{
		"displayName": stringOr(data["displayName"], name),
		"type":        imageType,
		"url":         url,
		"urlForGpu":   gpuURL(imageType, url, stringOr(data["urlForGpu"], "")),
	}
	if v, ok := data["description"].(string); ok {
		spec["description"] = v
	}
	if v, ok := data["useImagePullSecret"].(string); ok && v != "" {
		spec["useImagePullSecret"] = v
	}
	if v, ok := data["groupName"].(string); ok && v != "" {
		spec["groupName"] = v
	}
	return spec, nil
}

func (Adapter) SpecPatch(current map[string]any, data map[string]any) (map[string]any, error) {
	fields := map[string]any{}
	for _, key := range []string{"displayName", "description", "type", "url", "urlForGpu", "useImagePullSecret", "groupName"} {
		if v, ok := data[key]; ok {
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		return fields, nil
	}

	merged := func(key string, fallback string) string {
		if v, ok := fields[key].(string); ok {
			return v
		}
		return stringOr(current[key], fallback)
	}

	imageType := merged("type", TypeBoth)
	if err := validateType(imageType); err != nil {
		return nil, err
	}
	url := merged("url", "")
	if _, touched := fields["url"]; touched {
		if err := validateURL(url); err != nil {
			return nil, err
		}
	}

	// the gpu url depends on type and url, so any change to those
	// recomputes it from the merged state
	explicit := ""
	if v, ok := fields["urlForGpu"].(string); ok {
		explicit = v
	}
	fields["urlForGpu"] = gpuURL(imageType, url, explicit)
	return fields, nil
}

// gpuURL resolves the image url used on gpu nodes: a dedicated url is
// honored only for "both" images, everything else runs the base url.
func gpuURL(imageType string, url string, explicit string) string {
	if imageType == TypeBoth && explicit != "" {
		return explicit
	}
	return url
}

func validateType(imageType string) error {
	switch imageType {
	case TypeCPU, TypeGPU, TypeBoth:
		return nil
	default:
		return apierr.New(
			apierr.MalformedAttribute,
			fmt.Sprintf("image type %q is not one of cpu, gpu, both", imageType),
		)
	}
}

func validateURL(url string) error {
	if url == "" {
		return nil
	}
	if _, err := registryname.ParseReference(url, registryname.WeakValidation); err != nil {
		return apierr.Wrap(
			apierr.MalformedAttribute,
			fmt.Sprintf("image url %q is not a valid image reference", url),
			err,
		)
	}
	return nil
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

// nullable keeps optional string fields null in records until they are
// actually set, instead of degrading to "".
func nullable(v any) any {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return nil
}

// ForGroup lists the images a group can use: those whose visibility role
// the group holds, plus the global ones.
func ForGroup(ctx context.Context, engine *resource.Engine, perms permissions.Store, groupID string) ([]domain.Record, error) {
	roles, err := perms.GroupRoles(ctx, groupID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "listing group roles failed", err)
	}
	granted := map[string]bool{}
	for _, role := range roles {
		if name, ok := strings.CutPrefix(role, RolePrefix+":"); ok {
			granted[name] = true
		}
	}

	all, err := engine.Query(ctx, args.ResourceArgs{})
	if err != nil {
		return nil, err
	}
	out := []domain.Record{}
	for _, record := range all {
		name, _ := record["name"].(string)
		if granted[name] || record["global"] == true {
			out = append(out, record)
		}
	}
	return out, nil
}
