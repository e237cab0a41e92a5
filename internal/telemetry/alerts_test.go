package telemetry

import (
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

const alertsPath = "../../deploy/prometheus/alerts.yml"

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertsConfig struct {
	Groups []alertGroup `yaml:"groups"`
}

func loadAlerts(t *testing.T) alertsConfig {
	t.Helper()
	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Skipf("Skipping test: alerts file not found at %s", alertsPath)
	}
	var cfg alertsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("Invalid YAML in alerts.yml: %v", err)
	}
	return cfg
}

func TestAlertsFileValid(t *testing.T) {
	cfg := loadAlerts(t)
	if len(cfg.Groups) == 0 {
		t.Fatal("alerts.yml 'groups' is empty or invalid")
	}
}

func TestAlertLabels(t *testing.T) {
	cfg := loadAlerts(t)
	for _, group := range cfg.Groups {
		for _, alert := range group.Rules {
			if alert.Alert == "" {
				continue
			}
			if _, ok := alert.Labels["severity"]; !ok {
				t.Errorf("Alert '%s' missing 'severity' label", alert.Alert)
			}
			if _, ok := alert.Annotations["summary"]; !ok {
				t.Errorf("Alert '%s' missing 'summary' annotation", alert.Alert)
			}
		}
	}
}

func TestAlertsReferenceExportedMetrics(t *testing.T) {
	cfg := loadAlerts(t)

	BatchJobsTotal.WithLabelValues("completed").Add(0)
	BatchRejectedTotal.WithLabelValues("schema").Add(0)
	BatchTripsTotal.WithLabelValues("failed").Add(0)
	BatchUploadedBytes.WithLabelValues("media").Add(0)
	APIRequestsTotal.WithLabelValues("GET", "/healthz", "200").Add(0)
	APIRequestDuration.WithLabelValues("GET", "/healthz", "200").Observe(0)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	exported := make(map[string]bool, len(families))
	for _, f := range families {
		exported[f.GetName()] = true
	}

	for _, group := range cfg.Groups {
		for _, alert := range group.Rules {
			found := false
			for name := range exported {
				if strings.HasPrefix(name, namespace+"_") && strings.Contains(alert.Expr, name) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("Alert '%s' does not reference an exported rideatlas metric", alert.Alert)
			}
		}
	}
}
