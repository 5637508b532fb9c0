package kserve

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// InferenceService is the subset of the serving.kserve.io/v1beta1
// InferenceService schema needed to serve a grading model. The KServe Go SDK
// pins its own Kubernetes versions, so the CRD is mirrored here instead.
type InferenceService struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   InferenceServiceSpec   `json:"spec,omitempty"`
	Status InferenceServiceStatus `json:"status,omitempty"`
}

// InferenceServiceSpec is the desired state of an InferenceService.
type InferenceServiceSpec struct {
	Predictor PredictorSpec `json:"predictor"`
}

// PredictorSpec defines the model serving configuration.
type PredictorSpec struct {
	Model *ISvcModelSpec `json:"model,omitempty"`
}

// ISvcModelSpec describes the served model.
type ISvcModelSpec struct {
	ModelFormat ModelFormat                 `json:"modelFormat"`
	Runtime     *string                     `json:"runtime,omitempty"`
	StorageURI  *string                     `json:"storageUri,omitempty"`
	Resources   corev1.ResourceRequirements `json:"resources,omitempty"`

	// Args are passed to the vLLM server, e.g. the per-prompt image limit.
	Args []string `json:"args,omitempty"`
}

// ModelFormat identifies the model format by name and optional version.
type ModelFormat struct {
	Name    string  `json:"name"`
	Version *string `json:"version,omitempty"`
}

// InferenceServiceStatus represents the observed state of an InferenceService.
type InferenceServiceStatus struct {
	Conditions []StatusCondition `json:"conditions,omitempty"`

	// URL is assigned by the controller once the predictor is routable.
	URL string `json:"url,omitempty"`
}

// StatusCondition is a Knative-style condition.
type StatusCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// IsReady reports whether the Ready condition is True.
func (s *InferenceServiceStatus) IsReady() bool {
	for _, c := range s.Conditions {
		if c.Type == "Ready" && c.Status == "True" {
			return true
		}
	}
	return false
}

// GetReadyCondition returns the Ready condition if present, or nil.
func (s *InferenceServiceStatus) GetReadyCondition() *StatusCondition {
	for i := range s.Conditions {
		if s.Conditions[i].Type == "Ready" {
			return &s.Conditions[i]
		}
	}
	return nil
}

// Progress describes why a not-yet-ready InferenceService is waiting, e.g.
// while the model weights are still downloading.
func (s *InferenceServiceStatus) Progress() string {
	cond := s.GetReadyCondition()
	switch {
	case cond == nil:
		return "pending"
	case cond.Message != "":
		return cond.Message
	case cond.Reason != "":
		return cond.Reason
	default:
		return "pending"
	}
}
