package model

// ServiceKind enumerates the service types a template may declare
type ServiceKind string

const (
	KindWeb      ServiceKind = "web"
	KindWorker   ServiceKind = "worker"
	KindPrivate  ServiceKind = "private"
	KindCron     ServiceKind = "cron"
	KindDatabase ServiceKind = "database"
	KindCache    ServiceKind = "cache"
)

// Valid reports whether k is a supported service kind
func (k ServiceKind) Valid() bool {
	switch k {
	case KindWeb, KindWorker, KindPrivate, KindCron, KindDatabase, KindCache:
		return true
	}
	return false
}

// ServiceDescriptor is one tenant-agnostic service in a deployment template
type ServiceDescriptor struct {
	Name         string            `yaml:"name" json:"name"`
	Kind         ServiceKind       `yaml:"kind" json:"kind"`
	BuildCommand string            `yaml:"buildCommand" json:"buildCommand"`
	Env          map[string]string `yaml:"env" json:"env"`
	PluginTarget bool              `yaml:"pluginTarget" json:"pluginTarget"`
}

// DeploymentTemplate is the reusable description of a tenant stack.
// It is read-only once loaded.
type DeploymentTemplate struct {
	Services []ServiceDescriptor `yaml:"services" json:"services"`
}

// ServiceSpec is a service customized for one tenant
type ServiceSpec struct {
	LogicalName  string            `json:"-"`
	Name         string            `json:"name"`
	Kind         ServiceKind       `json:"kind"`
	BuildCommand string            `json:"buildCommand,omitempty"`
	Env          map[string]string `json:"env"`
}

// DeploymentSpec is a template customized for one tenant, ready to submit
type DeploymentSpec struct {
	TenantSlug string        `json:"tenant"`
	Services   []ServiceSpec `json:"services"`
}
