// Package instancetype is the compute-shape entity: cpu/memory/gpu
// limits a workload may request, plus scheduling hints.
package instancetype

import (
	"fmt"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/conn/k8s"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/resource"
)

const RolePrefix = "it"

type Adapter struct{}

var _ resource.Adapter = Adapter{}

func (Adapter) Kind() string       { return "instancetype" }
func (Adapter) RolePrefix() string { return RolePrefix }

func (Adapter) ToRecord(item k8s.Item) domain.Record {
	spec := item.Spec
	record := domain.Record{
		"id":          item.Metadata.Name,
		"name":        item.Metadata.Name,
		"displayName": stringOr(spec["displayName"], item.Metadata.Name),
		"description": nullable(spec["description"]),
		"cpuLimit":    numberOr(spec["limits.cpu"], 0),
		"memoryLimit": numberOr(spec["limits.memory"], 0),
		"gpuLimit":    int(numberOr(spec["limits.gpu"], 0)),
	}
	if v, ok := spec["requests.cpu"]; ok {
		record["cpuRequest"] = numberOr(v, 0)
	}
	if v, ok := spec["requests.memory"]; ok {
		record["memoryRequest"] = numberOr(v, 0)
	}
	if v, ok := spec["tolerations"].([]any); ok {
		record["tolerations"] = v
	}
	if v, ok := spec["nodeSelector"].(map[string]any); ok {
		record["nodeSelector"] = v
	}
	return record
}

func (Adapter) NewSpec(name string, data map[string]any) (map[string]any, error) {
	cpuLimit, ok := number(data["cpuLimit"])
	if !ok || cpuLimit <= 0 {
		return nil, apierr.New(apierr.MalformedAttribute, "cpuLimit is required and must be positive")
	}
	memoryLimit, ok := number(data["memoryLimit"])
	if !ok || memoryLimit <= 0 {
		return nil, apierr.New(apierr.MalformedAttribute, "memoryLimit is required and must be positive")
	}

	spec := map[string]any{
		"displayName":   stringOr(data["displayName"], name),
		"limits.cpu":    cpuLimit,
		"limits.memory": memoryLimit,
	}
	if v, ok := data["description"].(string); ok {
		spec["description"] = v
	}
	if v, ok := number(data["gpuLimit"]); ok {
		spec["limits.gpu"] = v
	}
	if v, ok := number(data["cpuRequest"]); ok {
		spec["requests.cpu"] = v
	}
	if v, ok := number(data["memoryRequest"]); ok {
		spec["requests.memory"] = v
	}
	if v, ok := data["tolerations"].([]any); ok {
		spec["tolerations"] = v
	}
	if v, ok := data["nodeSelector"].(map[string]any); ok {
		spec["nodeSelector"] = v
	}
	if err := validate(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func (Adapter) SpecPatch(current map[string]any, data map[string]any) (map[string]any, error) {
	fields := map[string]any{}
	rename := map[string]string{
		"displayName":   "displayName",
		"description":   "description",
		"cpuLimit":      "limits.cpu",
		"memoryLimit":   "limits.memory",
		"gpuLimit":      "limits.gpu",
		"cpuRequest":    "requests.cpu",
		"memoryRequest": "requests.memory",
		"tolerations":   "tolerations",
		"nodeSelector":  "nodeSelector",
	}
	for from, to := range rename {
		if v, ok := data[from]; ok {
			fields[to] = v
		}
	}
	if len(fields) == 0 {
		return fields, nil
	}

	merged := map[string]any{}
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range fields {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if err := validate(merged); err != nil {
		return nil, err
	}
	return fields, nil
}

// validate checks the full spec: limits stay positive and requests never
// exceed their limit.
func validate(spec map[string]any) error {
	cpuLimit, ok := number(spec["limits.cpu"])
	if !ok || cpuLimit <= 0 {
		return apierr.New(apierr.MalformedAttribute, "cpuLimit must be positive")
	}
	memoryLimit, ok := number(spec["limits.memory"])
	if !ok || memoryLimit <= 0 {
		return apierr.New(apierr.MalformedAttribute, "memoryLimit must be positive")
	}
	if gpu, ok := number(spec["limits.gpu"]); ok && gpu < 0 {
		return apierr.New(apierr.MalformedAttribute, "gpuLimit must not be negative")
	}
	if request, ok := number(spec["requests.cpu"]); ok && request > cpuLimit {
		return apierr.New(
			apierr.MalformedAttribute,
			fmt.Sprintf("cpuRequest %v exceeds cpuLimit %v", request, cpuLimit),
		)
	}
	if request, ok := number(spec["requests.memory"]); ok && request > memoryLimit {
		return apierr.New(
			apierr.MalformedAttribute,
			fmt.Sprintf("memoryRequest %v exceeds memoryLimit %v", request, memoryLimit),
		)
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func numberOr(v any, fallback float64) float64 {
	if n, ok := number(v); ok {
		return n
	}
	return fallback
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
