package secret_test

import (
	"context"
	"testing"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/audit"
	"github.com/opst/adminhub/pkg/conn/k8s"
	k8smem "github.com/opst/adminhub/pkg/conn/k8s/memory"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/domain/secret"
	"github.com/opst/adminhub/pkg/utils/try"
)

func newResolver(t *testing.T) (*secret.Resolver, *k8smem.SecretStore) {
	t.Helper()
	store := k8smem.NewSecretStore()
	return secret.New(secret.Config{Store: store, Audit: audit.NewMemory()}), store
}

var actor = auth.Actor{Username: "root"}

func TestResolver(t *testing.T) {
	t.Run("when a registry secret is created, its record shows shape but never the password", func(t *testing.T) {
		resolver, _ := newResolver(t)
		ctx := context.Background()

		record := try.To(resolver.Create(ctx, actor, map[string]any{
			"name": "gitlab-pull", "type": "kubernetes",
			"registryHost": "registry.example.com", "username": "robot", "password": "hunter2",
		})).OrFatal(t)

		if record["registryHost"] != "registry.example.com" || record["username"] != "robot" {
			t.Errorf("registry shape should be visible: %+v", record)
		}
		if _, exposed := record["password"]; exposed {
			t.Errorf("password must not be rendered: %+v", record)
		}
	})

	t.Run("when created with an unknown type, it is rejected as malformed", func(t *testing.T) {
		resolver, _ := newResolver(t)

		_, err := resolver.Create(context.Background(), actor, map[string]any{
			"name": "odd", "type": "tls",
		})
		if apierr.CodeOf(err) != apierr.MalformedAttribute {
			t.Errorf("expected MALFORMED_ATTRIBUTE, got %v", err)
		}
	})

	t.Run("when an update tries to switch the type, the stored type wins", func(t *testing.T) {
		resolver, store := newResolver(t)
		ctx := context.Background()
		try.To(resolver.Create(ctx, actor, map[string]any{
			"name": "token", "secret": "v1",
		})).OrFatal(t)

		try.To(resolver.Update(ctx, actor, "token", map[string]any{
			"type": "kubernetes", "secret": "v2",
		})).OrFatal(t)

		stored := try.To(store.Get(ctx, "token")).OrFatal(t)
		if stored.Type != k8s.SecretTypeOpaque || stored.Secret != "v2" {
			t.Errorf("type should be fixed and payload updated: %+v", stored)
		}
	})

	t.Run("when destroyed, the secret is gone and a minimal id/name echo is returned", func(t *testing.T) {
		resolver, _ := newResolver(t)
		ctx := context.Background()
		try.To(resolver.Create(ctx, actor, map[string]any{"name": "token", "secret": "v1"})).OrFatal(t)

		record := try.To(resolver.Destroy(ctx, actor, "token")).OrFatal(t)
		if record["id"] != "token" || record["name"] != "token" || len(record) != 2 {
			t.Errorf("destroy should echo only the id and name: %+v", record)
		}

		rows := try.To(resolver.Query(ctx, args.ResourceArgs{})).OrFatal(t)
		if len(rows) != 0 {
			t.Errorf("destroyed secret should not be listed: %+v", rows)
		}
	})
}
