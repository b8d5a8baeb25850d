package instancetype_test

import (
	"testing"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/conn/k8s"
	"github.com/opst/adminhub/pkg/domain/instancetype"
	"github.com/opst/adminhub/pkg/utils/try"
)

func TestAdapter_NewSpec(t *testing.T) {
	adapter := instancetype.Adapter{}

	t.Run("when limits are given, the spec is accepted and requests are carried over", func(t *testing.T) {
		spec := try.To(adapter.NewSpec("cpu-small", map[string]any{
			"cpuLimit": 1.0, "memoryLimit": 2.0, "cpuRequest": 0.5, "gpuLimit": 0,
		})).OrFatal(t)

		if spec["limits.cpu"] != 1.0 || spec["limits.memory"] != 2.0 {
			t.Errorf("limits should be stored: %+v", spec)
		}
		if spec["requests.cpu"] != 0.5 {
			t.Errorf("request should be stored: %+v", spec)
		}
		if spec["displayName"] != "cpu-small" {
			t.Errorf("displayName should default to the name: %+v", spec)
		}
	})

	t.Run("when cpuLimit is missing, creation is rejected as malformed", func(t *testing.T) {
		_, err := adapter.NewSpec("bad", map[string]any{"memoryLimit": 2.0})
		if apierr.CodeOf(err) != apierr.MalformedAttribute {
			t.Errorf("expected MALFORMED_ATTRIBUTE, got %v", err)
		}
	})

	t.Run("when a request exceeds its limit, creation is rejected as malformed", func(t *testing.T) {
		_, err := adapter.NewSpec("bad", map[string]any{
			"cpuLimit": 1.0, "memoryLimit": 2.0, "memoryRequest": 4.0,
		})
		if apierr.CodeOf(err) != apierr.MalformedAttribute {
			t.Errorf("expected MALFORMED_ATTRIBUTE, got %v", err)
		}
	})
}

func TestAdapter_SpecPatch(t *testing.T) {
	adapter := instancetype.Adapter{}
	current := map[string]any{
		"limits.cpu": 1.0, "limits.memory": 2.0, "requests.memory": 1.0,
	}

	t.Run("when the memory limit is lowered below the stored request, the patch is rejected", func(t *testing.T) {
		_, err := adapter.SpecPatch(current, map[string]any{"memoryLimit": 0.5})
		if apierr.CodeOf(err) != apierr.MalformedAttribute {
			t.Errorf("expected MALFORMED_ATTRIBUTE, got %v", err)
		}
	})

	t.Run("when a field is updated, only that field is in the patch", func(t *testing.T) {
		fields := try.To(adapter.SpecPatch(current, map[string]any{"cpuLimit": 2.0})).OrFatal(t)
		if len(fields) != 1 || fields["limits.cpu"] != 2.0 {
			t.Errorf("unexpected patch: %+v", fields)
		}
	})
}

func TestAdapter_ToRecord(t *testing.T) {
	t.Run("when a stored spec is rendered, api field names are used", func(t *testing.T) {
		record := instancetype.Adapter{}.ToRecord(k8s.Item{
			Metadata: k8s.Metadata{Name: "gpu-large"},
			Spec: map[string]any{
				"limits.cpu": 4.0, "limits.memory": 16.0, "limits.gpu": 2.0,
			},
		})
		if record["cpuLimit"] != 4.0 || record["memoryLimit"] != 16.0 || record["gpuLimit"] != 2 {
			t.Errorf("unexpected record: %+v", record)
		}
	})
}
