package boundary

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads redaction rules from a YAML file of the form:
//
//	rules:
//	  - label: internal_host
//	    pattern: '[a-z0-9-]+\.corp\.example\.com'
//	    ignore_case: true
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return file.Rules, nil
}
