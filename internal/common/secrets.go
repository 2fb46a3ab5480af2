package common

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Secrets holds the resolved credentials the extraction sources consume.
// They are loaded from a YAML file kept outside the main configuration and
// treated as opaque by everything downstream. AWS credentials are not kept
// here: they resolve from the named shared-config profiles in the AWS
// config.
type Secrets struct {
	GitLabHost  string `yaml:"gitlab_host"`
	GitLabToken string `yaml:"gitlab_token"`
}

// LoadSecrets reads the secrets file. A missing file is not an error: it
// simply means no GitLab credential is available and GitLab jobs are
// excluded during scope resolution.
func LoadSecrets(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Secrets{}, nil
		}
		return nil, fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}

	var secrets Secrets
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file %s: %w", path, err)
	}

	// Environment variables override the file, for CI runs.
	if v := os.Getenv("COLLIGO_GITLAB_HOST"); v != "" {
		secrets.GitLabHost = v
	}
	if v := os.Getenv("COLLIGO_GITLAB_TOKEN"); v != "" {
		secrets.GitLabToken = v
	}

	return &secrets, nil
}

// HasGitLab reports whether a usable GitLab credential is present.
func (s *Secrets) HasGitLab() bool {
	return s.GitLabHost != "" && s.GitLabToken != ""
}
