package deploy

import (
	"context"
	"encoding/json"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apitypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// KubeTarget updates workload images through the Kubernetes API using a
// strategic-merge patch of the pod template, the equivalent of
// `kubectl set image`.
type KubeTarget struct {
	clientset kubernetes.Interface
}

// NewKubeTarget wraps an existing clientset.
func NewKubeTarget(clientset kubernetes.Interface) *KubeTarget {
	return &KubeTarget{clientset: clientset}
}

// NewKubeTargetFromCredentials builds a target from per-environment secret
// material: API server address, CA certificate (PEM), and bearer token.
func NewKubeTargetFromCredentials(addr string, caPEM []byte, token string) (*KubeTarget, error) {
	if addr == "" {
		return nil, fmt.Errorf("deploy: cluster address is required")
	}
	cfg := &rest.Config{
		Host:        addr,
		BearerToken: token,
		TLSClientConfig: rest.TLSClientConfig{
			CAData: caPEM,
		},
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("deploy: failed to create Kubernetes client: %w", err)
	}
	return &KubeTarget{clientset: clientset}, nil
}

// imagePatch is the strategic-merge patch body updating one container image
// in a pod template.
func imagePatch(container, image string) ([]byte, error) {
	patch := map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []map[string]any{
						{"name": container, "image": image},
					},
				},
			},
		},
	}
	return json.Marshal(patch)
}

// SetImage patches the named workload object so its container runs the given
// image. Supported kinds: Deployment, StatefulSet, DaemonSet.
func (t *KubeTarget) SetImage(ctx context.Context, namespace, objectKind, objectName, container, image string) error {
	data, err := imagePatch(container, image)
	if err != nil {
		return fmt.Errorf("deploy: failed to build patch: %w", err)
	}

	opts := metav1.PatchOptions{}
	switch objectKind {
	case "Deployment", "":
		_, err = t.clientset.AppsV1().Deployments(namespace).
			Patch(ctx, objectName, apitypes.StrategicMergePatchType, data, opts)
	case "StatefulSet":
		_, err = t.clientset.AppsV1().StatefulSets(namespace).
			Patch(ctx, objectName, apitypes.StrategicMergePatchType, data, opts)
	case "DaemonSet":
		_, err = t.clientset.AppsV1().DaemonSets(namespace).
			Patch(ctx, objectName, apitypes.StrategicMergePatchType, data, opts)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, objectKind)
	}

	if err != nil {
		return fmt.Errorf("%w: patching %s %s/%s: %v", ErrUnreachable, objectKind, namespace, objectName, err)
	}
	return nil
}
