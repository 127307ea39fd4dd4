package config

import (
	"fmt"
	"os"
	"strings"
)

// Secret environment variables. Each also accepts a NAME_FILE variant.
const (
	EnvAPPassword   = "NAPT_AP_PASSWORD"
	EnvMQTTPassword = "NAPT_MQTT_PASSWORD"
	EnvAdminUser    = "NAPT_ADMIN_USER"
	EnvAdminPass    = "NAPT_ADMIN_PASS"
)

// Secrets are values kept out of device.yaml.
type Secrets struct {
	APPassword   string
	MQTTPassword string
	AdminUser    string
	AdminPass    string
}

// ResolveSecret reads envName using the *_FILE convention: if
// envName+"_FILE" is set the secret is read from that path, otherwise the
// value of envName is returned. Unset yields "".
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// LoadSecrets resolves every secret. The first unreadable file aborts.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	for _, f := range []struct {
		env string
		dst *string
	}{
		{EnvAPPassword, &s.APPassword},
		{EnvMQTTPassword, &s.MQTTPassword},
		{EnvAdminUser, &s.AdminUser},
		{EnvAdminPass, &s.AdminPass},
	} {
		v, err := ResolveSecret(f.env)
		if err != nil {
			return Secrets{}, err
		}
		*f.dst = v
	}
	return s, nil
}

// Apply overlays secrets onto the configuration. A set AP password wins over
// the file.
func (c *DeviceConfig) Apply(s Secrets) error {
	if s.APPassword != "" {
		c.AccessPoint.Password = s.APPassword
		c.AccessPoint.Open = false
	}
	return c.Validate()
}
