package main

import (
	"testing"
)

func validTestConfig() *Config {
	return &Config{
		port:          8080,
		redisPort:     6379,
		store:         "redis",
		photoTemplate: "https://assets.blast.tv/images/players/%s?format=auto",
	}
}

func TestValidate_Defaults(t *testing.T) {
	if err := validTestConfig().validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.port = 0 }},
		{"port too high", func(c *Config) { c.port = 70000 }},
		{"redis port too low", func(c *Config) { c.redisPort = 0 }},
		{"unknown store", func(c *Config) { c.store = "postgres" }},
		{"tls cert without key", func(c *Config) { c.tlsCert = "cert.pem" }},
		{"tls key without cert", func(c *Config) { c.tlsKey = "key.pem" }},
		{"photo template without verb", func(c *Config) {
			c.photoTemplate = "https://assets.blast.tv/images/players/static"
		}},
	}

	for _, tc := range cases {
		cfg := validTestConfig()
		tc.mutate(cfg)
		if err := cfg.validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidate_MemoryStore(t *testing.T) {
	cfg := validTestConfig()
	cfg.store = "memory"
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected memory store to validate, got %v", err)
	}
}

func TestScheme(t *testing.T) {
	cfg := validTestConfig()
	if cfg.scheme() != "http" {
		t.Fatalf("expected http without tls, got %s", cfg.scheme())
	}

	cfg.tlsCert = "cert.pem"
	cfg.tlsKey = "key.pem"
	if cfg.scheme() != "https" {
		t.Fatalf("expected https with tls, got %s", cfg.scheme())
	}
}
