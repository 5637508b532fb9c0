package kserve

import (
	"fmt"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

const (
	apiVersion = "serving.kserve.io/v1beta1"
	kind       = "InferenceService"
	managedBy  = "lab-grader"

	labelManagedBy = "app.kubernetes.io/managed-by"
	labelName      = "app.kubernetes.io/name"
	labelComponent = "app.kubernetes.io/component"

	// annotationModelURI records the source model on the resource so List
	// can report it without parsing the predictor spec.
	annotationModelURI = "lab-grader.giantswarm.io/model-uri"

	gpuResource = corev1.ResourceName("nvidia.com/gpu")

	// maxNameLength is the DNS label limit for resource names.
	maxNameLength = 63
)

// BuildInferenceService returns the InferenceService that serves the
// grading model described by cfg in namespace.
func BuildInferenceService(cfg DeploymentConfig, namespace string) *InferenceService {
	name := sanitizeName(cfg.Name)
	return &InferenceService{
		TypeMeta: metav1.TypeMeta{APIVersion: apiVersion, Kind: kind},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				labelManagedBy: managedBy,
				labelName:      name,
				labelComponent: "grader",
			},
			Annotations: map[string]string{
				annotationModelURI: cfg.ModelURI,
			},
		},
		Spec: InferenceServiceSpec{
			Predictor: PredictorSpec{Model: modelSpec(cfg)},
		},
	}
}

func modelSpec(cfg DeploymentConfig) *ISvcModelSpec {
	uri := cfg.ModelURI
	spec := &ISvcModelSpec{
		ModelFormat: ModelFormat{Name: "vLLM"},
		StorageURI:  &uri,
		Resources:   gpuResources(cfg.GPUCount),
		Args:        cfg.Args(),
	}
	if cfg.Runtime != "" {
		rt := cfg.Runtime
		spec.Runtime = &rt
	}
	return spec
}

// gpuResources requests and limits n whole GPUs. n <= 0 leaves the
// predictor without GPU resources, e.g. for small CPU test models.
func gpuResources(n int) corev1.ResourceRequirements {
	if n <= 0 {
		return corev1.ResourceRequirements{}
	}
	qty := resource.MustParse(strconv.Itoa(n))
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{gpuResource: qty},
		Limits:   corev1.ResourceList{gpuResource: qty},
	}
}

func toUnstructured(isvc *InferenceService) (*unstructured.Unstructured, error) {
	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(isvc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert InferenceService to unstructured: %w", err)
	}
	return &unstructured.Unstructured{Object: obj}, nil
}

func fromUnstructured(obj *unstructured.Unstructured) (*InferenceService, error) {
	var isvc InferenceService
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &isvc); err != nil {
		return nil, fmt.Errorf("failed to convert unstructured to InferenceService: %w", err)
	}
	return &isvc, nil
}

// sanitizeName turns a model name such as "Qwen/Qwen2-VL-7B" into a valid
// resource name. Separators become dashes, other invalid characters are
// dropped, and names not starting with a letter get a "g-" prefix.
func sanitizeName(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r - 'A' + 'a'
		case strings.ContainsRune("_./@:", r):
			return '-'
		default:
			return -1
		}
	}, name)

	if s != "" && (s[0] < 'a' || s[0] > 'z') {
		s = "g-" + s
	}
	if len(s) > maxNameLength {
		s = s[:maxNameLength]
	}
	return strings.TrimRight(s, "-")
}

// EndpointURL returns the in-cluster OpenAI-compatible base URL of a
// grading model.
func EndpointURL(name, namespace string) string {
	return fmt.Sprintf("http://%s.%s.svc.cluster.local/v1", sanitizeName(name), namespace)
}
