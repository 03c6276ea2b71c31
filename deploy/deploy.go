// Package deploy updates the image of a target deployment object. Setting
// the image is the single externally-visible deploy primitive; rollout
// mechanics belong to the cluster.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Common errors.
var (
	ErrUnsupportedKind = errors.New("deploy: unsupported object kind")
	// ErrUnreachable wraps transport failures talking to the target. It is
	// fatal and surfaced to the operator; there is no automatic retry.
	ErrUnreachable = errors.New("deploy: target unreachable")
)

// Target is the deployment backend interface.
type Target interface {
	SetImage(ctx context.Context, namespace, objectKind, objectName, container, image string) error
}

// ImageUpdate records one SetImage call.
type ImageUpdate struct {
	Namespace  string
	ObjectKind string
	ObjectName string
	Container  string
	Image      string
}

// FakeTarget records image updates in memory. Used in tests and dry runs.
type FakeTarget struct {
	mu      sync.Mutex
	Updates []ImageUpdate
	Err     error
}

// NewFakeTarget creates an empty FakeTarget.
func NewFakeTarget() *FakeTarget {
	return &FakeTarget{}
}

func (f *FakeTarget) SetImage(_ context.Context, namespace, objectKind, objectName, container, image string) error {
	if f.Err != nil {
		return f.Err
	}
	if namespace == "" || objectName == "" || container == "" || image == "" {
		return fmt.Errorf("deploy: namespace, object name, container, and image are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates = append(f.Updates, ImageUpdate{
		Namespace:  namespace,
		ObjectKind: objectKind,
		ObjectName: objectName,
		Container:  container,
		Image:      image,
	})
	return nil
}

// Last returns the most recent update, if any.
func (f *FakeTarget) Last() (ImageUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Updates) == 0 {
		return ImageUpdate{}, false
	}
	return f.Updates[len(f.Updates)-1], true
}
