package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for manifold %s
# Install: sudo cp this file to /etc/logrotate.d/manifold-%s

/var/log/manifold/%s/*.log {
    daily
    rotate 14
    compress
    delaycompress
    missingok
    notifempty
    create 0644 manifold manifold
    sharedscripts
    postrotate
        systemctl reload manifold-%s 2>/dev/null || true
    endscript
}
`, component, component, component, component)
}

// GenerateServerLogrotate generates logrotate config for the artifact server
func GenerateServerLogrotate() string {
	return GenerateLogrotateConfig("server")
}

// GenerateHostLogrotate generates logrotate config for the module host
func GenerateHostLogrotate() string {
	return GenerateLogrotateConfig("host")
}
