package kserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var isvcGVR = schema.GroupVersionResource{
	Group:    "serving.kserve.io",
	Version:  "v1beta1",
	Resource: "inferenceservices",
}

// Deleting a vLLM predictor lets it drain in-flight grading requests first.
const teardownGracePeriod = int64(30)

// Manager handles the lifecycle of grading model InferenceServices in one
// namespace.
type Manager struct {
	client    dynamic.Interface
	namespace string
}

// NewManager creates a Manager from a kubeconfig (or the default loading
// rules when empty) or from the in-cluster service account.
func NewManager(namespace string, kubeconfig string, inCluster bool) (*Manager, error) {
	config, err := restConfig(kubeconfig, inCluster)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	client, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	return NewManagerWithClient(client, namespace), nil
}

// NewManagerWithClient creates a Manager on top of an existing dynamic client.
func NewManagerWithClient(client dynamic.Interface, namespace string) *Manager {
	return &Manager{
		client:    client,
		namespace: namespace,
	}
}

func restConfig(kubeconfig string, inCluster bool) (*rest.Config, error) {
	if inCluster {
		return rest.InClusterConfig()
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

func (m *Manager) resource() dynamic.ResourceInterface {
	return m.client.Resource(isvcGVR).Namespace(m.namespace)
}

// CheckCRDAvailable verifies that the InferenceService CRD is installed.
func (m *Manager) CheckCRDAvailable(ctx context.Context) error {
	if _, err := m.resource().List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		return fmt.Errorf("KServe InferenceService CRD is not available in the cluster: %w", err)
	}
	return nil
}

// Deploy creates the grading model's InferenceService and blocks until it
// serves. If another run created the same deployment first, Deploy waits for
// that one instead of failing.
func (m *Manager) Deploy(ctx context.Context, cfg DeploymentConfig) (*DeploymentStatus, error) {
	if cfg.ModelURI == "" {
		return nil, fmt.Errorf("model URI is required to deploy %s", cfg.Name)
	}
	isvc := BuildInferenceService(cfg, m.namespace)

	obj, err := toUnstructured(isvc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert InferenceService: %w", err)
	}

	slog.Info("deploying grading model",
		"name", isvc.Name,
		"model_uri", cfg.ModelURI,
		"gpu_count", cfg.GPUCount,
		"max_images_per_prompt", cfg.MaxImagesPerPrompt,
		"max_model_len", cfg.MaxModelLen,
	)

	_, err = m.resource().Create(ctx, obj, metav1.CreateOptions{})
	switch {
	case apierrors.IsAlreadyExists(err):
		slog.Info("grading model already being deployed, waiting for it", "name", isvc.Name)
	case err != nil:
		return nil, fmt.Errorf("failed to create InferenceService %s: %w", isvc.Name, err)
	}

	ready, err := m.awaitReady(ctx, isvc.Name, cfg.ReadyTimeout)
	if err != nil {
		return nil, fmt.Errorf("InferenceService %s not ready: %w", isvc.Name, err)
	}

	status := m.statusFromISVC(ready)
	if status.ModelURI == "" {
		status.ModelURI = cfg.ModelURI
	}
	return &status, nil
}

// Ensure returns the existing deployment when it is already ready and
// otherwise deploys it. A deployment that exists but is not ready yet is
// waited for rather than recreated.
func (m *Manager) Ensure(ctx context.Context, cfg DeploymentConfig) (*DeploymentStatus, error) {
	status, err := m.Get(ctx, cfg.Name)
	switch {
	case err == nil && status.Ready:
		slog.Info("reusing ready grading model", "name", status.Name)
		return status, nil
	case err == nil:
		slog.Info("grading model exists, waiting for ready", "name", status.Name, "status", status.Message)
		ready, err := m.awaitReady(ctx, status.Name, cfg.ReadyTimeout)
		if err != nil {
			return nil, fmt.Errorf("InferenceService %s not ready: %w", status.Name, err)
		}
		s := m.statusFromISVC(ready)
		return &s, nil
	case apierrors.IsNotFound(err):
		return m.Deploy(ctx, cfg)
	default:
		return nil, err
	}
}

// Teardown deletes a grading model. A missing deployment is not an error.
func (m *Manager) Teardown(ctx context.Context, name string) error {
	name = sanitizeName(name)
	slog.Info("tearing down grading model", "name", name)

	grace := teardownGracePeriod
	propagation := metav1.DeletePropagationForeground
	err := m.resource().Delete(ctx, name, metav1.DeleteOptions{
		GracePeriodSeconds: &grace,
		PropagationPolicy:  &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete InferenceService %s: %w", name, err)
	}
	return nil
}

// List returns every grading model managed by lab-grader in the namespace.
func (m *Manager) List(ctx context.Context) ([]DeploymentStatus, error) {
	list, err := m.resource().List(ctx, metav1.ListOptions{
		LabelSelector: labelManagedBy + "=" + managedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list InferenceServices: %w", err)
	}

	statuses := make([]DeploymentStatus, 0, len(list.Items))
	for i := range list.Items {
		isvc, err := fromUnstructured(&list.Items[i])
		if err != nil {
			slog.Warn("skipping unreadable InferenceService", "name", list.Items[i].GetName(), "error", err)
			continue
		}
		statuses = append(statuses, m.statusFromISVC(isvc))
	}
	return statuses, nil
}

// Get returns the status of one grading model. The returned error wraps the
// API error, so apierrors.IsNotFound works on it.
func (m *Manager) Get(ctx context.Context, name string) (*DeploymentStatus, error) {
	isvc, err := m.get(ctx, sanitizeName(name))
	if err != nil {
		return nil, err
	}
	status := m.statusFromISVC(isvc)
	return &status, nil
}

func (m *Manager) get(ctx context.Context, name string) (*InferenceService, error) {
	item, err := m.resource().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get InferenceService %s: %w", name, err)
	}
	isvc, err := fromUnstructured(item)
	if err != nil {
		return nil, fmt.Errorf("failed to convert InferenceService %s: %w", name, err)
	}
	return isvc, nil
}

func (m *Manager) statusFromISVC(isvc *InferenceService) DeploymentStatus {
	status := DeploymentStatus{
		Name:      isvc.Name,
		ModelURI:  isvc.Annotations[annotationModelURI],
		CreatedAt: isvc.CreationTimestamp.Format(time.RFC3339),
	}
	if isvc.Status.IsReady() {
		status.Ready = true
		status.EndpointURL = endpointURL(isvc, m.namespace)
	} else {
		status.Message = isvc.Status.Progress()
	}
	return status
}

// awaitReady blocks until the named InferenceService reports Ready and
// returns it. Model downloads can take many minutes, so the last progress
// message is included when the wait times out.
func (m *Manager) awaitReady(ctx context.Context, name string, timeout time.Duration) (*InferenceService, error) {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	progress := "pending"
	if isvc, err := m.get(ctx, name); err == nil {
		if isvc.Status.IsReady() {
			return isvc, nil
		}
		progress = isvc.Status.Progress()
	}

	watcher, err := m.resource().Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch InferenceService: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("timed out after %s (last status: %s)", timeout, progress)
			}
			return nil, ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return nil, fmt.Errorf("watch closed while waiting (last status: %s)", progress)
			}
			if event.Type != watch.Added && event.Type != watch.Modified {
				continue
			}
			obj, ok := event.Object.(*unstructured.Unstructured)
			if !ok {
				continue
			}
			isvc, err := fromUnstructured(obj)
			if err != nil {
				slog.Warn("failed to convert watch event", "name", name, "error", err)
				continue
			}
			if isvc.Status.IsReady() {
				slog.Info("grading model ready", "name", name)
				return isvc, nil
			}
			if p := isvc.Status.Progress(); p != progress {
				progress = p
				slog.Debug("grading model not ready yet", "name", name, "status", progress)
			}
		}
	}
}

func endpointURL(isvc *InferenceService, namespace string) string {
	if isvc.Status.URL != "" {
		return isvc.Status.URL
	}
	return EndpointURL(isvc.Name, namespace)
}
