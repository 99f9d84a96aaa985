package main

import (
	"testing"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/config"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/courier"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/service"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store/memory"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
	}{
		{"short secret", config.Config{AppEnv: "production", AuthSecret: "short", RazorpayKeyID: "rzp", RazorpayKeySecret: "s"}},
		{"key without secret", config.Config{AppEnv: "development", RazorpayKeyID: "rzp"}},
		{"no gateway in production", config.Config{AppEnv: "production", AuthSecret: strongSecret}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateSecurityConfig(tc.cfg); err == nil {
				t.Fatalf("expected config to be rejected")
			}
		})
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AppEnv: "production", AuthSecret: strongSecret, RazorpayKeyID: "rzp_live", RazorpayKeySecret: "secret"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
	if err := validateSecurityConfig(config.Config{AppEnv: "development"}); err != nil {
		t.Fatalf("expected development defaults to pass, got %v", err)
	}
}

func TestCourierSyncScheduledOnlyWithTracker(t *testing.T) {
	svc := service.New(service.Deps{Repo: memory.New()})
	cfg := config.Config{}

	for _, task := range scheduledTasks(cfg, svc, courier.Noop{}) {
		if task.Name == "courier-sync" {
			t.Fatalf("expected courier-sync off with the noop tracker")
		}
	}
	tasks := scheduledTasks(cfg, svc, courier.Static{})
	if len(tasks) != 3 || tasks[2].Name != "courier-sync" {
		t.Fatalf("expected courier-sync scheduled with a tracker, got %+v", tasks)
	}
}
