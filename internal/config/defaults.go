package config

import (
	"time"

	"github.com/spf13/viper"
)

// InitDefaults registers the default of every setting on v.
func InitDefaults(v *viper.Viper) {
	v.SetDefault("container", []any{})
	v.SetDefault("container_registries", []any{})
	v.SetDefault("container_comparisons", map[string]string{"*": "strict"})
	v.SetDefault("container_filter.by", "")
	v.SetDefault("container_filter.names", []string{})
	v.SetDefault("container_fail.error_at_launch", true)
	v.SetDefault("container_reporting.changes", true)
	v.SetDefault("container_reporting.failed", true)
	v.SetDefault("container_clean_update_fact", true)
	v.SetDefault("container_fact_file", "/var/lib/harbormaster/update_container.fact")
	v.SetDefault("container_env_directory", "/opt/container")

	v.SetDefault("container_files.owner", "root")
	v.SetDefault("container_files.group", "root")
	v.SetDefault("container_files.mode", "0640")
	v.SetDefault("container_directories.owner", "root")
	v.SetDefault("container_directories.group", "root")
	v.SetDefault("container_directories.mode", "0755")

	v.SetDefault("container_pull.retries", 3)
	v.SetDefault("container_pull.delay", 5*time.Second)
	v.SetDefault("container_stop_timeout", 10*time.Second)
	v.SetDefault("container_pre_tasks", []string{})
	v.SetDefault("container_post_tasks", []string{})
	v.SetDefault("container_task_timeout", 0)

	// GitOps source, unused while url is empty
	v.SetDefault("source.git.url", "")
	v.SetDefault("source.git.ref", "")
	v.SetDefault("source.git.path", "containers.yml")
	v.SetDefault("source.git.depth", 1)
	v.SetDefault("source.git.username", "")
	v.SetDefault("source.git.password", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("serve.address", ":3000")
	v.SetDefault("serve.interval", 5*time.Minute)
}
