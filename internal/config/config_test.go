package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Engine.Mode != "mock" {
		t.Fatalf("expected default engine mode mock, got %q", cfg.Engine.Mode)
	}
	if cfg.Session.WatchdogPeriodMS != 55000 || cfg.Session.IdleThresholdMS != 10000 {
		t.Fatalf("unexpected watchdog defaults: %+v", cfg.Session)
	}
	if cfg.Engine.Language != "es-ES" {
		t.Fatalf("expected default language es-ES, got %q", cfg.Engine.Language)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SALESTALK_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SALESTALK_BUS_USERNAME", "alice")
	t.Setenv("SALESTALK_BUS_PASSWORD", "secret")
	t.Setenv("SALESTALK_NLP_BASE_URL", "https://nlp.example.test")
	t.Setenv("SALESTALK_ENGINE_MODE", "streaming")
	t.Setenv("SALESTALK_ENGINE_SOCKET_URL", "wss://api.example.test/api/realtime/ws")
	t.Setenv("SALESTALK_ENGINE_LANGUAGE", "en-US")
	t.Setenv("SALESTALK_SESSION_AUTO_RESTART", "false")
	t.Setenv("SALESTALK_SESSION_MAX_NETWORK_RETRIES", "2")
	t.Setenv("SALESTALK_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("SALESTALK_EVENT_STORE_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.NLP.BaseURL != "https://nlp.example.test" {
		t.Fatalf("expected nlp base url override, got %q", cfg.NLP.BaseURL)
	}
	if cfg.Engine.Mode != "streaming" {
		t.Fatalf("expected engine mode override, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.SocketURL != "wss://api.example.test/api/realtime/ws" {
		t.Fatalf("expected socket url override")
	}
	if cfg.Engine.Language != "en-US" {
		t.Fatalf("expected language override")
	}
	if cfg.Session.AutoRestart {
		t.Fatal("expected auto restart override false")
	}
	if cfg.Session.MaxNetworkRetries != 2 {
		t.Fatalf("expected retries override, got %d", cfg.Session.MaxNetworkRetries)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
}

func TestValidateRejectsStreamingWithoutSocket(t *testing.T) {
	cfg := Default()
	cfg.Engine.Mode = "streaming"
	cfg.Engine.SocketURL = ""
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for streaming mode without socket_url")
	}
}

func TestValidateRejectsIdleThresholdAbovePeriod(t *testing.T) {
	cfg := Default()
	cfg.Session.IdleThresholdMS = cfg.Session.WatchdogPeriodMS
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for idle threshold >= watchdog period")
	}
}
