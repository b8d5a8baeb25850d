package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// The API group/version all hub custom resources live under.
const (
	Group   = "hub.opst.io"
	Version = "v1alpha1"
)

// Kind names one custom resource kind and its plural resource name.
type Kind struct {
	Kind     string
	Resource string
}

var (
	KindImage        = Kind{Kind: "Image", Resource: "images"}
	KindInstanceType = Kind{Kind: "InstanceType", Resource: "instancetypes"}
	KindDataset      = Kind{Kind: "Dataset", Resource: "datasets"}
	KindAnnouncement = Kind{Kind: "Announcement", Resource: "announcements"}
)

func (k Kind) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: Group, Version: Version, Resource: k.Resource}
}

// RestConfig builds client configuration from a kubeconfig file, or from
// the in-cluster service account when kubeconfig is empty.
func RestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return rest.InClusterConfig()
}

// Clients bundles the two client flavors the server needs: dynamic for
// custom resources and typed for core objects (secrets).
type Clients struct {
	Dynamic dynamic.Interface
	Typed   kubernetes.Interface
}

func NewClients(config *rest.Config) (Clients, error) {
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return Clients{}, fmt.Errorf("building dynamic client: %w", err)
	}
	typed, err := kubernetes.NewForConfig(config)
	if err != nil {
		return Clients{}, fmt.Errorf("building typed client: %w", err)
	}
	return Clients{Dynamic: dyn, Typed: typed}, nil
}

type store struct {
	client      dynamic.ResourceInterface
	kind        Kind
	callTimeout time.Duration
}

var _ CustomResourceStore = &store{}

// NewStore wraps one custom resource kind in one namespace.
//
// callTimeout caps each apiserver round-trip. Zero means no cap beyond the
// caller's context.
func NewStore(client dynamic.Interface, namespace string, kind Kind, callTimeout time.Duration) CustomResourceStore {
	return &store{
		client:      client.Resource(kind.GroupVersionResource()).Namespace(namespace),
		kind:        kind,
		callTimeout: callTimeout,
	}
}

func (s *store) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case kubeerr.IsNotFound(err):
		return ErrNotFound
	case kubeerr.IsAlreadyExists(err):
		return ErrAlreadyExists
	default:
		return err
	}
}

func fromUnstructured(obj *unstructured.Unstructured) Item {
	item := Item{
		Metadata: Metadata{
			Name:              obj.GetName(),
			UID:               string(obj.GetUID()),
			ResourceVersion:   obj.GetResourceVersion(),
			CreationTimestamp: obj.GetCreationTimestamp().Time,
		},
	}
	if spec, ok, _ := unstructured.NestedMap(obj.Object, "spec"); ok {
		item.Spec = spec
	} else {
		item.Spec = map[string]any{}
	}
	return item
}

func (s *store) Get(ctx context.Context, name string) (*Item, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	obj, err := s.client.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, translate(err)
	}
	item := fromUnstructured(obj)
	return &item, nil
}

func (s *store) List(ctx context.Context) ([]Item, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	list, err := s.client.List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, translate(err)
	}
	items := make([]Item, len(list.Items))
	for nth := range list.Items {
		items[nth] = fromUnstructured(&list.Items[nth])
	}
	return items, nil
}

func (s *store) Create(ctx context.Context, item Item) (*Item, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	obj := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": Group + "/" + Version,
		"kind":       s.kind.Kind,
		"metadata":   map[string]any{"name": item.Metadata.Name},
		"spec":       item.Spec,
	}}
	created, err := s.client.Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return nil, translate(err)
	}
	got := fromUnstructured(created)
	return &got, nil
}

func (s *store) PatchSpec(ctx context.Context, name string, fields map[string]any) (*Item, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	patch, err := json.Marshal(map[string]any{"spec": fields})
	if err != nil {
		return nil, fmt.Errorf("encoding spec patch for %s/%s: %w", s.kind.Resource, name, err)
	}
	patched, err := s.client.Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return nil, translate(err)
	}
	got := fromUnstructured(patched)
	return &got, nil
}

func (s *store) Delete(ctx context.Context, name string) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	return translate(s.client.Delete(ctx, name, metav1.DeleteOptions{}))
}
