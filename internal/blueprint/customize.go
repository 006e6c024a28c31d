package blueprint

import (
	"strings"

	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

const (
	// PluginsPath is where a tenant's custom plugin repository is checked out
	PluginsPath = "/app/custom-plugins"

	EnvTenantSlug  = "TENANT_SLUG"
	EnvTenantName  = "TENANT_NAME"
	EnvPluginsPath = "CUSTOM_PLUGINS_PATH"
)

// Customize builds the tenant-specific deployment spec for tmpl.
// The template is not modified.
func Customize(tmpl *model.DeploymentTemplate, tenant *model.Tenant) (*model.DeploymentSpec, error) {
	if err := Validate(tmpl); err != nil {
		return nil, err
	}

	displayName := tenant.Name
	if displayName == "" {
		displayName = "tenant-" + tenant.Slug
	}

	targets := pluginTargets(tmpl)
	spec := &model.DeploymentSpec{
		TenantSlug: tenant.Slug,
		Services:   make([]model.ServiceSpec, 0, len(tmpl.Services)),
	}

	for i, svc := range tmpl.Services {
		env := make(map[string]string, len(svc.Env)+3)
		for k, v := range svc.Env {
			env[k] = v
		}
		env[EnvTenantSlug] = tenant.Slug
		env[EnvTenantName] = displayName

		build := svc.BuildCommand
		if tenant.CustomPluginSource != "" && targets[i] {
			build = pluginFetchStep(tenant.CustomPluginSource, build)
			env[EnvPluginsPath] = PluginsPath
		}

		spec.Services = append(spec.Services, model.ServiceSpec{
			LogicalName:  svc.Name,
			Name:         ScopedName(svc.Name, tenant.Slug),
			Kind:         svc.Kind,
			BuildCommand: build,
			Env:          env,
		})
	}
	return spec, nil
}

// ScopedName returns the platform-wide unique name of a service for a tenant
func ScopedName(service, slug string) string {
	return service + "-" + slug
}

// pluginTargets marks the services that receive the plugin checkout. Explicit
// pluginTarget flags win; otherwise web services named *backend are targeted.
func pluginTargets(tmpl *model.DeploymentTemplate) map[int]bool {
	targets := make(map[int]bool)
	for i, svc := range tmpl.Services {
		if svc.PluginTarget {
			targets[i] = true
		}
	}
	if len(targets) > 0 {
		return targets
	}
	for i, svc := range tmpl.Services {
		if svc.Kind == model.KindWeb && strings.HasSuffix(svc.Name, "backend") {
			targets[i] = true
		}
	}
	return targets
}

// pluginFetchStep prepends the clone (and optional checkout of url#ref) to a
// build command.
func pluginFetchStep(source, build string) string {
	repo, ref, _ := strings.Cut(source, "#")
	steps := []string{"git clone " + shellQuote(repo) + " " + PluginsPath}
	if ref != "" {
		steps = append(steps, "git -C "+PluginsPath+" checkout "+shellQuote(ref))
	}
	if build != "" {
		steps = append(steps, build)
	}
	return strings.Join(steps, " && ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
