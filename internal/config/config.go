package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models caseflow.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Workflow struct {
		Stages map[string]Stage `yaml:"stages"`
		Order  []string         `yaml:"order"`
	} `yaml:"workflow"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Screening struct {
		Contexts []string `yaml:"contexts"`
	} `yaml:"screening"`
	Legacy struct {
		CaseIDs []int64 `yaml:"case_ids"`
	} `yaml:"legacy"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type Stage struct {
	CandidateGroup string `yaml:"candidate_group"`
	Permission     string `yaml:"permission"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// WebhookConfig describes one outbound event subscription. An empty events
// list subscribes to everything.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with caseflow config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "kyc-workflow" {
		return fmt.Errorf("config.project.kind must be 'kyc-workflow'")
	}
	if len(c.Workflow.Order) == 0 {
		return fmt.Errorf("config.workflow.order is required")
	}
	for _, stage := range c.Workflow.Order {
		if stage == "" {
			return fmt.Errorf("config.workflow.order contains empty stage")
		}
		def, ok := c.Workflow.Stages[stage]
		if !ok {
			return fmt.Errorf("stage %s listed in order but not defined", stage)
		}
		if def.CandidateGroup == "" {
			return fmt.Errorf("stage %s has no candidate_group", stage)
		}
		if def.Permission == "" {
			return fmt.Errorf("stage %s has no permission", stage)
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	for _, ctx := range c.Screening.Contexts {
		if ctx == "" {
			return fmt.Errorf("config.screening.contexts contains empty context")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "kyc-workflow"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: kyc-workflow

workflow:
  order: [ANALYST, REVIEWER, AFC_REVIEWER, ACO_REVIEWER]
  stages:
    ANALYST:
      candidate_group: kyc_analysts
      permission: case.approve.stage1
    REVIEWER:
      candidate_group: kyc_reviewers
      permission: case.approve.stage2
    AFC_REVIEWER:
      candidate_group: afc_reviewers
      permission: case.approve.stage3
    ACO_REVIEWER:
      candidate_group: aco_reviewers
      permission: case.approve.stage4

rbac:
  roles:
    KYC_ANALYST:
      description: "Prepares cases and answers the questionnaire"
      permissions: [case.create, case.approve.stage1]
    KYC_REVIEWER:
      description: "First line review"
      permissions: [case.approve.stage2]
    AFC_REVIEWER:
      description: "Anti financial crime review"
      permissions: [case.approve.stage3]
    ACO_REVIEWER:
      description: "Anti crime officer sign-off"
      permissions: [case.approve.stage4]
    ADMIN:
      description: "Operational override"
      permissions: [case.admin, case.create, case.manage]

screening:
  contexts: [PEP, ADM, INT, SAN]

legacy:
  case_ids: [1, 2]

# webhooks:
#   - url: https://compliance.example.org/hooks/caseflow
#     secret: change-me
#     events: [STATUS_CHANGED, CASE_TERMINATED]
`
