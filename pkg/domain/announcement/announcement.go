// Package announcement is the operator-to-users broadcast entity.
//
// Admins publish announcements scoped like any other resource (global or
// per group); users pull their feed, which hides drafts, expired entries
// and everything at or before their recorded last-read time.
package announcement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/conn/k8s"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/resource"
)

const RolePrefix = "ann"

// publication states. Drafts never reach a user's feed.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// LastReadAttribute is the user attribute holding the last-read mark.
const LastReadAttribute = "annLastReadTime"

type Adapter struct{}

var _ resource.Adapter = Adapter{}

func (Adapter) Kind() string       { return "announcement" }
func (Adapter) RolePrefix() string { return RolePrefix }

func (Adapter) ToRecord(item k8s.Item) domain.Record {
	spec := item.Spec
	record := domain.Record{
		"id":      item.Metadata.Name,
		"name":    item.Metadata.Name,
		"content": stringOr(spec["content"], ""),
		"status":  stringOr(spec["status"], StatusPublished),
	}
	if !item.Metadata.CreationTimestamp.IsZero() {
		record["createdAt"] = item.Metadata.CreationTimestamp.UTC().Format(time.RFC3339)
	}
	if v, ok := spec["expiryDate"].(string); ok && v != "" {
		record["expiryDate"] = v
	}
	if v, ok := spec["sendEmail"].(bool); ok {
		record["sendEmail"] = v
	}
	return record
}

func (Adapter) NewSpec(name string, data map[string]any) (map[string]any, error) {
	status := StatusPublished
	if v, ok := data["status"].(string); ok && v != "" {
		status = v
	}
	if err := validateStatus(status); err != nil {
		return nil, err
	}

	spec := map[string]any{
		"content": stringOr(data["content"], ""),
		"status":  status,
	}
	if v, ok := data["expiryDate"].(string); ok && v != "" {
		if err := validateExpiry(v); err != nil {
			return nil, err
		}
		spec["expiryDate"] = v
	}
	if v, ok := data["sendEmail"].(bool); ok {
		spec["sendEmail"] = v
	}
	return spec, nil
}

func (Adapter) SpecPatch(current map[string]any, data map[string]any) (map[string]any, error) {
	fields := map[string]any{}
	if v, ok := data["content"]; ok {
		fields["content"] = v
	}
	if v, ok := data["status"]; ok {
		if s, sok := v.(string); sok {
			if err := validateStatus(s); err != nil {
				return nil, err
			}
		}
		fields["status"] = v
	}
	if v, ok := data["expiryDate"]; ok {
		if s, sok := v.(string); sok && s != "" {
			if err := validateExpiry(s); err != nil {
				return nil, err
			}
		}
		fields["expiryDate"] = v
	}
	if v, ok := data["sendEmail"]; ok {
		fields["sendEmail"] = v
	}
	return fields, nil
}

func validateStatus(status string) error {
	switch status {
	case StatusDraft, StatusPublished:
		return nil
	default:
		return apierr.New(
			apierr.MalformedAttribute,
			fmt.Sprintf("announcement status %q is not one of draft, published", status),
		)
	}
}

func validateExpiry(value string) error {
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return apierr.Wrap(
			apierr.MalformedAttribute,
			fmt.Sprintf("expiryDate %q is not an RFC3339 timestamp", value),
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

// ForUser is the user's feed: announcements visible through the user's
// groups (or global), not yet expired at now, and created after the
// user's last-read mark.
func ForUser(
	ctx context.Context,
	engine *resource.Engine,
	perms permissions.Store,
	identity keycloak.IdentityStore,
	userID string,
	now time.Time,
) ([]domain.Record, error) {
	user, err := identity.GetUser(ctx, userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("getting user %s failed", userID), err)
	}
	lastRead := time.Time{}
	if raw := user.Attributes.First(LastReadAttribute); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			lastRead = parsed
		}
	}

	groups, err := identity.UserGroups(ctx, userID)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("listing groups of user %s failed", userID), err)
	}
	granted := map[string]bool{}
	for _, group := range groups {
		roles, err := perms.GroupRoles(ctx, group.ID)
		if err != nil {
			return nil, apierr.Wrap(
				apierr.UpstreamError,
				fmt.Sprintf("listing roles of group %s failed", group.Name),
				err,
			)
		}
		for _, role := range roles {
			if name, ok := strings.CutPrefix(role, RolePrefix+":"); ok {
				granted[name] = true
			}
		}
	}

	all, err := engine.Query(ctx, args.ResourceArgs{})
	if err != nil {
		return nil, err
	}

	out := []domain.Record{}
	for _, record := range all {
		name, _ := record["name"].(string)
		if !granted[name] && record["global"] != true {
			continue
		}
		if record["status"] != StatusPublished {
			continue
		}
		if expiry, ok := record["expiryDate"].(string); ok {
			if t, err := time.Parse(time.RFC3339, expiry); err == nil && !t.After(now) {
				continue
			}
		}
		if created, ok := record["createdAt"].(string); ok && !lastRead.IsZero() {
			if t, err := time.Parse(time.RFC3339, created); err == nil && !t.After(lastRead) {
				continue
			}
		}
		out = append(out, record)
	}
	return out, nil
}

// MarkRead moves the user's last-read mark to now.
func MarkRead(ctx context.Context, identity keycloak.IdentityStore, userID string, now time.Time) error {
	user, err := identity.GetUser(ctx, userID)
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("getting user %s failed", userID), err)
	}
	if user.Attributes == nil {
		user.Attributes = map[string][]string{}
	}
	user.Attributes[LastReadAttribute] = []string{now.UTC().Format(time.RFC3339)}
	if err := identity.UpdateUser(ctx, *user); err != nil {
		return apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("updating user %s failed", userID), err)
	}
	return nil
}
