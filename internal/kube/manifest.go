package kube

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// SecretManifest renders an Opaque Kubernetes Secret as YAML for kubectl
// apply. Data values are raw bytes; the YAML carries them base64-encoded.
func SecretManifest(namespace, name string, data map[string][]byte, labels map[string]string) (string, error) {
	secret := corev1.Secret{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Secret",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}
	out, err := yaml.Marshal(&secret)
	if err != nil {
		return "", fmt.Errorf("rendering secret manifest %s/%s: %w", namespace, name, err)
	}
	return string(out), nil
}
