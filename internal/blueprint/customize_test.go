package blueprint

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

func webDBTemplate() *model.DeploymentTemplate {
	return &model.DeploymentTemplate{
		Services: []model.ServiceDescriptor{
			{Name: "web", Kind: model.KindWeb, BuildCommand: "npm ci && npm run build", Env: map[string]string{"PORT": "8080", "TENANT_SLUG": "template-default"}},
			{Name: "db", Kind: model.KindDatabase},
		},
	}
}

func TestCustomize_ScopesNamesAndInjectsEnv(t *testing.T) {
	tenant := &model.Tenant{ID: uuid.New(), Slug: "acme", Name: "Acme Corp"}

	spec, err := Customize(webDBTemplate(), tenant)
	require.NoError(t, err)
	require.Len(t, spec.Services, 2)

	assert.Equal(t, "acme", spec.TenantSlug)
	assert.Equal(t, "web-acme", spec.Services[0].Name)
	assert.Equal(t, "web", spec.Services[0].LogicalName)
	assert.Equal(t, "db-acme", spec.Services[1].Name)
	for _, svc := range spec.Services {
		assert.Equal(t, "acme", svc.Env[EnvTenantSlug])
		assert.Equal(t, "Acme Corp", svc.Env[EnvTenantName])
		assert.NotContains(t, svc.Env, EnvPluginsPath)
	}
	assert.Equal(t, "8080", spec.Services[0].Env["PORT"])
	assert.Equal(t, "npm ci && npm run build", spec.Services[0].BuildCommand)
}

func TestCustomize_DoesNotMutateTemplate(t *testing.T) {
	tmpl := webDBTemplate()
	_, err := Customize(tmpl, &model.Tenant{Slug: "acme", Name: "Acme", CustomPluginSource: "https://git.example.com/p.git"})
	require.NoError(t, err)

	assert.Equal(t, "web", tmpl.Services[0].Name)
	assert.Equal(t, "template-default", tmpl.Services[0].Env["TENANT_SLUG"])
	assert.Equal(t, "npm ci && npm run build", tmpl.Services[0].BuildCommand)
	assert.Nil(t, tmpl.Services[1].Env)
}

func TestCustomize_DisjointNamesAcrossTenants(t *testing.T) {
	tmpl := webDBTemplate()
	a, err := Customize(tmpl, &model.Tenant{Slug: "acme"})
	require.NoError(t, err)
	b, err := Customize(tmpl, &model.Tenant{Slug: "globex"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, svc := range a.Services {
		names[svc.Name] = true
	}
	for _, svc := range b.Services {
		assert.False(t, names[svc.Name], "service name %s shared between tenants", svc.Name)
	}
}

func TestCustomize_Deterministic(t *testing.T) {
	tenant := &model.Tenant{Slug: "acme", Name: "Acme", CustomPluginSource: "https://git.example.com/p.git#v1"}
	first, err := Customize(webDBTemplate(), tenant)
	require.NoError(t, err)
	second, err := Customize(webDBTemplate(), tenant)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCustomize_EmptyNameFallsBackToSlug(t *testing.T) {
	spec, err := Customize(webDBTemplate(), &model.Tenant{Slug: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "tenant-acme", spec.Services[0].Env[EnvTenantName])
}

func TestCustomize_PluginSourceDefaultTarget(t *testing.T) {
	tmpl := &model.DeploymentTemplate{
		Services: []model.ServiceDescriptor{
			{Name: "crm-backend", Kind: model.KindWeb, BuildCommand: "pip install -r requirements.txt"},
			{Name: "crm-frontend", Kind: model.KindWeb, BuildCommand: "npm run build"},
		},
	}
	tenant := &model.Tenant{Slug: "acme", Name: "Acme", CustomPluginSource: "https://github.com/acme/plugins.git"}

	spec, err := Customize(tmpl, tenant)
	require.NoError(t, err)

	backend := spec.Services[0]
	assert.True(t, strings.HasPrefix(backend.BuildCommand, "git clone 'https://github.com/acme/plugins.git' /app/custom-plugins && "))
	assert.True(t, strings.HasSuffix(backend.BuildCommand, "pip install -r requirements.txt"))
	assert.Equal(t, PluginsPath, backend.Env[EnvPluginsPath])

	frontend := spec.Services[1]
	assert.Equal(t, "npm run build", frontend.BuildCommand)
	assert.NotContains(t, frontend.Env, EnvPluginsPath)
}

func TestCustomize_PluginSourceExplicitTargetAndRef(t *testing.T) {
	tmpl := &model.DeploymentTemplate{
		Services: []model.ServiceDescriptor{
			{Name: "api-backend", Kind: model.KindWeb, BuildCommand: "make"},
			{Name: "jobs", Kind: model.KindWorker, BuildCommand: "make worker", PluginTarget: true},
		},
	}
	tenant := &model.Tenant{Slug: "acme", CustomPluginSource: "https://github.com/acme/plugins.git#release-2"}

	spec, err := Customize(tmpl, tenant)
	require.NoError(t, err)

	assert.Equal(t, "make", spec.Services[0].BuildCommand)
	assert.Equal(t,
		"git clone 'https://github.com/acme/plugins.git' /app/custom-plugins && git -C /app/custom-plugins checkout 'release-2' && make worker",
		spec.Services[1].BuildCommand)
	assert.Equal(t, PluginsPath, spec.Services[1].Env[EnvPluginsPath])
}

func TestCustomize_PluginSourceQuoted(t *testing.T) {
	tmpl := &model.DeploymentTemplate{
		Services: []model.ServiceDescriptor{{Name: "backend", Kind: model.KindWeb}},
	}
	spec, err := Customize(tmpl, &model.Tenant{Slug: "x", CustomPluginSource: "https://h/it's.git"})
	require.NoError(t, err)
	assert.Equal(t, `git clone 'https://h/it'\''s.git' /app/custom-plugins`, spec.Services[0].BuildCommand)
}

func TestCustomize_InvalidTemplate(t *testing.T) {
	tests := []struct {
		name string
		tmpl *model.DeploymentTemplate
	}{
		{"nil", nil},
		{"no services", &model.DeploymentTemplate{}},
		{"duplicate names", &model.DeploymentTemplate{Services: []model.ServiceDescriptor{
			{Name: "web", Kind: model.KindWeb},
			{Name: "web", Kind: model.KindWorker},
		}}},
		{"unknown kind", &model.DeploymentTemplate{Services: []model.ServiceDescriptor{{Name: "web", Kind: "lambda"}}}},
		{"missing name", &model.DeploymentTemplate{Services: []model.ServiceDescriptor{{Kind: model.KindWeb}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Customize(tt.tmpl, &model.Tenant{Slug: "acme"})
			assert.Nil(t, spec)
			assert.True(t, errors.Is(err, ErrInvalidTemplate), "got %v", err)
		})
	}
}
