package deploy

import (
	"context"
	"errors"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestFakeTarget_RecordsUpdates(t *testing.T) {
	f := NewFakeTarget()
	err := f.SetImage(context.Background(), "nightly", "Deployment", "statics", "statics", "example/statics:master42")
	if err != nil {
		t.Fatalf("set image: %v", err)
	}

	last, ok := f.Last()
	if !ok {
		t.Fatal("expected a recorded update")
	}
	if last.Namespace != "nightly" || last.Image != "example/statics:master42" {
		t.Errorf("unexpected update %+v", last)
	}
}

func TestFakeTarget_RequiresFields(t *testing.T) {
	f := NewFakeTarget()
	if err := f.SetImage(context.Background(), "", "Deployment", "statics", "statics", "img"); err == nil {
		t.Error("expected error for missing namespace")
	}
}

func newDeployment(namespace, name, container, image string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: appsv1.DeploymentSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: container, Image: image}},
				},
			},
		},
	}
}

func TestKubeTarget_SetImage(t *testing.T) {
	clientset := fake.NewSimpleClientset(newDeployment("stage", "statics", "statics", "example/statics:v1.1.0"))
	target := NewKubeTarget(clientset)

	err := target.SetImage(context.Background(), "stage", "Deployment", "statics", "statics", "example/statics:v1.2.0")
	if err != nil {
		t.Fatalf("set image: %v", err)
	}

	d, err := clientset.AppsV1().Deployments("stage").Get(context.Background(), "statics", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Spec.Template.Spec.Containers[0].Image; got != "example/statics:v1.2.0" {
		t.Errorf("expected image updated, got %q", got)
	}
}

func TestKubeTarget_UnsupportedKind(t *testing.T) {
	target := NewKubeTarget(fake.NewSimpleClientset())
	err := target.SetImage(context.Background(), "stage", "CronJob", "statics", "statics", "img")
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestKubeTarget_MissingObjectSurfaces(t *testing.T) {
	target := NewKubeTarget(fake.NewSimpleClientset())
	err := target.SetImage(context.Background(), "stage", "Deployment", "statics", "statics", "img")
	if err == nil {
		t.Fatal("expected error for missing deployment")
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected ErrUnreachable wrapper, got %v", err)
	}
}
